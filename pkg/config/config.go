// Package config loads the terminal configuration: which readers hold the PO and the
// SAM, the key and session settings of the secure session engine, and logging.
//
// Example file:
//
//	readers:
//	  po: "Contactless"
//	  sam: "SAM"
//	sam:
//	  revision: C1
//	po:
//	  revision: ""        # read from the FCI when empty
//	keys:
//	  kif: {1: 0x21, 2: 0x27, 3: 0x30}
//	  kvc: 0x79
//	session:
//	  key_index: 3
//	  sfi: 0x07
//	  record: 1
//	  digest_mode: batched
//	  ratify: true
//	log:
//	  level: info
//	  format: text
package config

import (
	"encoding/hex"
	"log/slog"
	"os"
	"strings"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config is the root of the configuration file.
type Config struct {
	Readers Readers `yaml:"readers"`
	SAM     SAM     `yaml:"sam"`
	PO      PO      `yaml:"po"`
	Keys    Keys    `yaml:"keys"`
	Session Session `yaml:"session"`
	Log     Logging `yaml:"log"`
}

// Readers names the PC/SC readers by a fragment of their name. Simulate replaces both
// with the virtual PO and SAM.
type Readers struct {
	PO       string `yaml:"po"`
	SAM      string `yaml:"sam"`
	Simulate bool   `yaml:"simulate"`
}

// SAM describes the security module. Key is the hex issuer key of the virtual SAM.
type SAM struct {
	Revision string `yaml:"revision"`
	Key      string `yaml:"key"`
}

// PO overrides what is read from the card. An empty revision means "from the FCI".
type PO struct {
	Revision string `yaml:"revision"`
	AID      string `yaml:"aid"`
}

// Keys holds the defaults used when the PO does not name its work key.
type Keys struct {
	KIF map[int]int `yaml:"kif"`
	KVC int         `yaml:"kvc"`
}

// Session holds the parameters of the demonstration session.
type Session struct {
	KeyIndex   int    `yaml:"key_index"`
	SFI        int    `yaml:"sfi"`
	Record     int    `yaml:"record"`
	DigestMode string `yaml:"digest_mode"`
	Ratify     bool   `yaml:"ratify"`
}

// Logging selects the slog level and handler.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given: simulated readers,
// a C1 SAM, the debit key and immediate digest updates.
func Default() *Config {
	return &Config{
		Readers: Readers{Simulate: true},
		SAM:     SAM{Revision: calypso.SamC1.String(), Key: "000102030405060708090A0B0C0D0E0F"},
		PO:      PO{AID: hex.EncodeToString([]byte("1TIC.ICA"))},
		Keys: Keys{
			KIF: map[int]int{
				1: int(calypso.DefaultKIFIssuer),
				2: int(calypso.DefaultKIFLoad),
				3: int(calypso.DefaultKIFDebit),
			},
			KVC: 0xFF,
		},
		Session: Session{
			KeyIndex:   3,
			SFI:        0x07,
			Record:     1,
			DigestMode: calypso.DigestImmediate.String(),
			Ratify:     true,
		},
		Log: Logging{Level: "info", Format: "text"},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read configuration")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "configuration %s", path)
	}
	return cfg, nil
}

// Parse decodes data over the defaults and validates the result. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field once, so that the accessors below cannot fail on a
// validated configuration.
func (c *Config) Validate() error {
	if !c.Readers.Simulate && (c.Readers.PO == "" || c.Readers.SAM == "") {
		return errors.New("readers: po and sam are required unless simulate is set")
	}
	if _, err := calypso.ParseSamRevision(c.SAM.Revision); err != nil {
		return errors.Wrap(err, "sam.revision")
	}
	if c.Readers.Simulate {
		if _, err := c.SAMKey(); err != nil {
			return err
		}
	}
	if _, _, err := c.PoRevision(); err != nil {
		return err
	}
	if _, err := c.AID(); err != nil {
		return err
	}

	for index, kif := range c.Keys.KIF {
		if index < 1 || index > 3 {
			return errors.Errorf("keys.kif: key index %d out of range [1, 3]", index)
		}
		if !isByte(kif) {
			return errors.Errorf("keys.kif: KIF %d of key %d is not a byte", kif, index)
		}
	}
	if !isByte(c.Keys.KVC) {
		return errors.Errorf("keys.kvc: %d is not a byte", c.Keys.KVC)
	}

	s := c.Session
	if s.KeyIndex < 1 || s.KeyIndex > 3 {
		return errors.Errorf("session.key_index: %d out of range [1, 3]", s.KeyIndex)
	}
	if s.SFI < 0 || s.SFI > 30 {
		return errors.Errorf("session.sfi: %d out of range [0, 30]", s.SFI)
	}
	if s.Record < 0 || s.Record > 31 {
		return errors.Errorf("session.record: %d out of range [0, 31]", s.Record)
	}
	if _, err := calypso.ParseDigestMode(s.DigestMode); err != nil {
		return errors.Wrap(err, "session.digest_mode")
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("log.format: %q, want text or json", c.Log.Format)
	}
	return nil
}

func isByte(v int) bool {
	return v >= 0 && v <= 0xFF
}

// SAMKey decodes the issuer key of the virtual SAM.
func (c *Config) SAMKey() ([]byte, error) {
	key, err := hex.DecodeString(c.SAM.Key)
	if err != nil {
		return nil, errors.Wrap(err, "sam.key")
	}
	if len(key) != 16 {
		return nil, errors.Errorf("sam.key: %d bytes, want 16", len(key))
	}
	return key, nil
}

// AID decodes the application identifier to select.
func (c *Config) AID() ([]byte, error) {
	aid, err := hex.DecodeString(c.PO.AID)
	if err != nil {
		return nil, errors.Wrap(err, "po.aid")
	}
	if len(aid) < 5 || len(aid) > 16 {
		return nil, errors.Errorf("po.aid: %d bytes, want 5 to 16", len(aid))
	}
	return aid, nil
}

// PoRevision returns the configured PO revision; ok is false when it must be read from
// the card.
func (c *Config) PoRevision() (rev calypso.PoRevision, ok bool, err error) {
	if c.PO.Revision == "" {
		return 0, false, nil
	}
	rev, err = calypso.ParsePoRevision(c.PO.Revision)
	if err != nil {
		return 0, false, errors.Wrap(err, "po.revision")
	}
	return rev, true, nil
}

// LogLevel maps log.level to a slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, errors.Wrap(err, "log.level")
	}
	return level, nil
}

// EngineOptions translates the SAM and key settings into engine options.
func (c *Config) EngineOptions() ([]calypso.Option, error) {
	samRev, err := calypso.ParseSamRevision(c.SAM.Revision)
	if err != nil {
		return nil, errors.Wrap(err, "sam.revision")
	}
	mode, err := calypso.ParseDigestMode(c.Session.DigestMode)
	if err != nil {
		return nil, errors.Wrap(err, "session.digest_mode")
	}

	opts := []calypso.Option{
		calypso.WithSamRevision(samRev),
		calypso.WithDigestMode(mode),
		calypso.WithDefaultKVC(byte(c.Keys.KVC)),
	}
	for index, kif := range c.Keys.KIF {
		opts = append(opts, calypso.WithDefaultKIF(byte(index), byte(kif)))
	}
	return opts, nil
}

// OpenParams returns the open session parameters.
func (c *Config) OpenParams() calypso.OpenParams {
	return calypso.OpenParams{
		KeyIndex:     byte(c.Session.KeyIndex),
		SFI:          byte(c.Session.SFI),
		RecordNumber: byte(c.Session.Record),
	}
}
