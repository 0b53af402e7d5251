package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/config"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/pcsc"
	"github.com/gregLibert/calypso/pkg/simulator"
	"github.com/gregLibert/calypso/pkg/tlv"
)

func main() {
	configPath := flag.String("config", "", "YAML terminal configuration (defaults apply when empty)")
	verbose := flag.Bool("v", false, "log every APDU")
	logFormat := flag.String("log-format", "", "text or json (overrides the configuration)")
	simulate := flag.Bool("simulate", false, "use the virtual PO and SAM instead of PC/SC readers")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *simulate {
		cfg.Readers.Simulate = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("transaction failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// =========================================================================
// Transaction
// =========================================================================

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	po, sam, closeAll, err := openTransports(cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	poClient := iso7816.NewClient(po).WithLogger(logger.With("channel", "PO"))
	samClient := iso7816.NewClient(sam).WithLogger(logger.With("channel", "SAM"))

	// Step 1: select the application and identify the card.
	rev, serial, err := selectApplication(ctx, cfg, poClient)
	if err != nil {
		return err
	}

	// Step 2: secure session.
	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	engine := calypso.NewEngine(poClient, samClient, append(opts, calypso.WithLogger(logger))...)

	session, err := engine.NewSession(rev, serial)
	if err != nil {
		return err
	}

	open, err := session.Open(ctx, cfg.OpenParams())
	if err != nil {
		return err
	}
	fmt.Println(open.Describe())

	if sfi := byte(cfg.Session.SFI); sfi != 0 {
		res, err := session.Execute(ctx, calypso.ReadRecords, calypso.ReadRecordsParams{SFI: sfi, Record: 1, Multiple: true})
		if err != nil {
			return err
		}
		for _, rec := range res.(*calypso.ReadRecordsResult).Records {
			fmt.Printf("  Record %02X/%d: %s\n", sfi, rec.Number, tlv.UpperHex(rec.Data))
		}
	}

	// Step 3: close and verify the card.
	outcome, err := session.Close(ctx, calypso.CloseParams{Ratify: cfg.Session.Ratify})
	if err != nil {
		return err
	}
	if !outcome.Verified {
		return fmt.Errorf("card not authenticated (SW %04X)", uint16(outcome.Status))
	}

	fmt.Printf(">> Session verified, %d exchanges digested\n", session.TraceLen())
	return nil
}

func selectApplication(ctx context.Context, cfg *config.Config, client iso7816.Exchanger) (calypso.PoRevision, []byte, error) {
	aid, err := cfg.AID()
	if err != nil {
		return 0, nil, err
	}
	cls := iso7816.MustClass(0x00)

	tx, err := client.Exchange(ctx, iso7816.SelectByAID(cls, aid))
	if err != nil {
		return 0, nil, err
	}
	resp := tx.Response
	if !resp.Status.IsSuccess() {
		return 0, nil, fmt.Errorf("application %X not selected: %s", aid, resp.Status.Verbose())
	}

	fci, err := calypso.ParseApplicationFCI(resp.Data)
	if err != nil {
		return 0, nil, err
	}
	fmt.Println(fci.Describe())

	if rev, ok, _ := cfg.PoRevision(); ok {
		return rev, fci.SerialNumber(), nil
	}
	startup, err := fci.Startup()
	if err != nil {
		return 0, nil, err
	}
	rev, err := startup.Revision()
	if err != nil {
		return 0, nil, err
	}
	return rev, fci.SerialNumber(), nil
}

// =========================================================================
// Transports
// =========================================================================

// openTransports connects the PO and SAM readers, or builds the virtual pair.
func openTransports(cfg *config.Config) (po, sam iso7816.Transmitter, closeAll func(), err error) {
	if cfg.Readers.Simulate {
		return simulated(cfg)
	}

	poReader, err := pcsc.Open(cfg.Readers.PO)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("PO reader: %w", err)
	}
	samReader, err := pcsc.Open(cfg.Readers.SAM)
	if err != nil {
		_ = poReader.Close()
		return nil, nil, nil, fmt.Errorf("SAM reader: %w", err)
	}
	fmt.Printf(">> PO reader: %s\n>> SAM reader: %s\n", poReader.Name, samReader.Name)

	closeAll = func() {
		for _, r := range []*pcsc.Reader{poReader, samReader} {
			if err := r.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}
	return poReader, samReader, closeAll, nil
}

func simulated(cfg *config.Config) (po, sam iso7816.Transmitter, closeAll func(), err error) {
	key, err := cfg.SAMKey()
	if err != nil {
		return nil, nil, nil, err
	}
	aid, err := cfg.AID()
	if err != nil {
		return nil, nil, nil, err
	}
	rev, ok, _ := cfg.PoRevision()
	if !ok {
		rev = calypso.Rev3_1
	}

	card, err := simulator.NewCard(simulator.CardConfig{
		Revision:           rev,
		Serial:             tlv.Hex("00000000 11223344"),
		AID:                aid,
		IssuerKey:          key,
		KVC:                0x79,
		TransactionCounter: 100,
		Files: map[byte][][]byte{
			0x07: {tlv.Hex("24B92848080000131A50001200000000000000000000000000000000000000")},
			0x08: {tlv.Hex("0123"), tlv.Hex("4567"), tlv.Hex("89AB")},
			0x09: {tlv.Hex("01"), tlv.Hex("02")},
			0x19: {tlv.Hex("000064 000000")},
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	samDevice, err := simulator.NewSAM(key)
	if err != nil {
		return nil, nil, nil, err
	}
	fmt.Printf(">> Simulated %s PO and SAM\n", rev)
	return card, samDevice, func() {}, nil
}
