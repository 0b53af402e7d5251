package calypso

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/tlv"
)

func response(t *testing.T, hex string) *iso7816.ResponseAPDU {
	t.Helper()
	resp, err := iso7816.ParseResponseAPDU(tlv.Hex(hex))
	if err != nil {
		t.Fatalf("bad fixture %q: %v", hex, err)
	}
	return resp
}

func parseWith(t *testing.T, name CommandName, rev PoRevision, cmd *iso7816.CommandAPDU, resp string) (Result, error) {
	t.Helper()
	def, err := NewCatalog().Resolve(name, rev)
	if err != nil {
		t.Fatal(err)
	}
	return def.Parse(cmd, response(t, resp))
}

func TestParseOpenSession(t *testing.T) {
	tests := []struct {
		name    string
		rev     PoRevision
		resp    string
		want    *OpenSessionResult
		wantErr error
	}{
		{
			name: "3.1 with record",
			rev:  Rev3_1,
			resp: "00002A 7B 00 30 79 03 AABBCC 9000",
			want: &OpenSessionResult{
				Ratified: true, TransactionCounter: 42, Challenge: tlv.Hex("7B"),
				KIF: 0x30, HasKIF: true, KVC: 0x79, RecordData: tlv.Hex("AABBCC"),
			},
		},
		{
			name: "3.1 previous session not ratified",
			rev:  Rev3_1,
			resp: "00002A 7B 01 30 79 00 9000",
			want: &OpenSessionResult{
				TransactionCounter: 42, Challenge: tlv.Hex("7B"),
				KIF: 0x30, HasKIF: true, KVC: 0x79, RecordData: []byte{},
			},
		},
		{
			name:    "3.1 record length inconsistent",
			rev:     Rev3_1,
			resp:    "00002A 7B 00 30 79 05 AABBCC 9000",
			wantErr: ErrUnexpectedResponseLength,
		},
		{
			name: "3.2 ratified, manage session authorized",
			rev:  Rev3_2,
			resp: "000100 0102030405 02 21 79 01 EE 9000",
			want: &OpenSessionResult{
				Ratified: true, ManageSessionAuthorized: true, TransactionCounter: 256,
				Challenge: tlv.Hex("0102030405"), KIF: 0x21, HasKIF: true, KVC: 0x79, RecordData: tlv.Hex("EE"),
			},
		},
		{
			name: "3.2 not ratified",
			rev:  Rev3_2,
			resp: "000100 0102030405 01 21 79 00 9000",
			want: &OpenSessionResult{
				TransactionCounter: 256, Challenge: tlv.Hex("0102030405"),
				KIF: 0x21, HasKIF: true, KVC: 0x79, RecordData: []byte{},
			},
		},
		{
			name:    "3.2 too short",
			rev:     Rev3_2,
			resp:    "000100 0102030405 01 21 79 9000",
			wantErr: ErrUnexpectedResponseLength,
		},
		{
			name: "2.4 ratified, no record",
			rev:  Rev2_4,
			resp: "79 00002A 7B 9000",
			want: &OpenSessionResult{Ratified: true, TransactionCounter: 42, Challenge: tlv.Hex("7B"), KVC: 0x79},
		},
		{
			name: "2.4 not ratified, no record",
			rev:  Rev2_4,
			resp: "79 00002A 7B 0000 9000",
			want: &OpenSessionResult{TransactionCounter: 42, Challenge: tlv.Hex("7B"), KVC: 0x79},
		},
		{
			name: "2.4 ratified, with record",
			rev:  Rev2_4,
			resp: "79 00002A 7B 0102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D 9000",
			want: &OpenSessionResult{
				Ratified: true, TransactionCounter: 42, Challenge: tlv.Hex("7B"), KVC: 0x79,
				RecordData: tlv.Hex("0102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D"),
			},
		},
		{
			name:    "2.4 length 6",
			rev:     Rev2_4,
			resp:    "79 00002A 7B 00 9000",
			wantErr: ErrUnexpectedResponseLength,
		},
		{
			name:    "Rejected: wrong key index",
			rev:     Rev3_1,
			resp:    "6A81",
			wantErr: &CommandRejectedError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseWith(t, OpenSession, tt.rev, nil, tt.resp)

			if tt.wantErr != nil {
				var rejected *CommandRejectedError
				if errors.As(tt.wantErr, &rejected) {
					if !errors.As(err, &rejected) {
						t.Fatalf("error = %v; want *CommandRejectedError", err)
					}
					return
				}
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}

			got := res.(*OpenSessionResult)
			if got.SW != iso7816.SW_NO_ERROR {
				t.Errorf("SW = %04X", uint16(got.SW))
			}
			opts := cmp.FilterPath(func(p cmp.Path) bool {
				s := p.String()
				return s == "Raw" || s == "StatusResult"
			}, cmp.Ignore())
			if diff := cmp.Diff(tt.want, got, opts); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if len(got.Raw) == 0 {
				t.Error("Raw data field must be kept for the digest")
			}
		})
	}
}

func TestParseCloseSession(t *testing.T) {
	tests := []struct {
		name          string
		resp          string
		wantSignature []byte
		wantPostponed []byte
		wantErr       error
	}{
		{name: "Empty", resp: "9000"},
		{name: "Signature only", resp: "55667788 9000", wantSignature: tlv.Hex("55667788")},
		{name: "Postponed data and signature", resp: "01020304 55667788 9000",
			wantPostponed: tlv.Hex("01020304"), wantSignature: tlv.Hex("55667788")},
		{name: "5 bytes", resp: "0102030405 9000", wantErr: ErrUnexpectedResponseLength},
		{name: "12 bytes", resp: "0102030405060708090A0B0C 9000", wantErr: ErrUnexpectedResponseLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseWith(t, CloseSession, Rev3_1, nil, tt.resp)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			got := res.(*CloseSessionResult)
			if diff := cmp.Diff(tt.wantSignature, got.Signature, cmp.Comparer(bytesEqual)); diff != "" {
				t.Errorf("signature (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantPostponed, got.PostponedData, cmp.Comparer(bytesEqual)); diff != "" {
				t.Errorf("postponed data (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_StatusTables(t *testing.T) {
	tests := []struct {
		name        string
		command     CommandName
		resp        string
		wantMessage string
	}{
		{"Close with incorrect signature", CloseSession, "6988", "Incorrect signatureLo."},
		{"Close without session", CloseSession, "6985", "No session was opened."},
		{"Read record not found", ReadRecords, "6A83", "Record not found (record index is 0, or above NumRec)."},
		{"Update with access forbidden", UpdateRecord, "6982", "Security conditions not fulfilled (no session, wrong key, encryption required)."},
		{"Append on a non cyclic file", AppendRecord, "6981", "The current EF is not a Cyclic EF."},
		{"Too many modifications", WriteRecord, "6400", "Too many modifications in session."},
		{"Increase overflow", Increase, "6A80", "Overflow error."},
		{"Undocumented status", UpdateRecord, "6F00", iso7816.UnknownStatusMessage},
	}

	read := iso7816.ReadRecord(iso7816.MustClass(0x00), 0x07, 1)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseWith(t, tt.command, Rev3_1, read, tt.resp)
			rejected, ok := IsRejected(err)
			if !ok {
				t.Fatalf("error = %v; want *CommandRejectedError", err)
			}
			if rejected.Command != tt.command || rejected.Message != tt.wantMessage {
				t.Errorf("got %s %q; want %s %q", rejected.Command, rejected.Message, tt.command, tt.wantMessage)
			}
		})
	}
}

func TestParseReadRecords(t *testing.T) {
	cls := iso7816.MustClass(0x00)

	res, err := parseWith(t, ReadRecords, Rev3_1, iso7816.ReadRecord(cls, 0x07, 3), "AABBCC 9000")
	if err != nil {
		t.Fatal(err)
	}
	want := []Record{{Number: 3, Data: tlv.Hex("AABBCC")}}
	if diff := cmp.Diff(want, res.(*ReadRecordsResult).Records); diff != "" {
		t.Errorf("single record (-want +got):\n%s", diff)
	}

	res, err = parseWith(t, ReadRecords, Rev3_1, iso7816.ReadAllRecords(cls, 0x08, 1), "01 02 AABB 02 01 CC 9000")
	if err != nil {
		t.Fatal(err)
	}
	want = []Record{{Number: 1, Data: tlv.Hex("AABB")}, {Number: 2, Data: tlv.Hex("CC")}}
	if diff := cmp.Diff(want, res.(*ReadRecordsResult).Records); diff != "" {
		t.Errorf("multiple records (-want +got):\n%s", diff)
	}

	_, err = parseWith(t, ReadRecords, Rev3_1, iso7816.ReadAllRecords(cls, 0x08, 1), "01 05 AABB 9000")
	if !errors.Is(err, ErrUnexpectedResponseLength) {
		t.Errorf("truncated record: error = %v", err)
	}
}

func TestParseCounter(t *testing.T) {
	res, err := parseWith(t, Increase, Rev3_1, nil, "000164 9000")
	if err != nil {
		t.Fatal(err)
	}
	if v := res.(*CounterResult).Value; v != 0x164 {
		t.Errorf("Value = %d; want %d", v, 0x164)
	}

	res, err = parseWith(t, Decrease, Rev3_1, nil, "000010 6103")
	if err != nil {
		t.Fatalf("6103 must be successful: %v", err)
	}
	if v := res.(*CounterResult).Value; v != 0x10 {
		t.Errorf("Value = %d; want 16", v)
	}

	if _, err := parseWith(t, Decrease, Rev3_1, nil, "0164 9000"); !errors.Is(err, ErrUnexpectedResponseLength) {
		t.Errorf("2-byte value: error = %v", err)
	}
}

func TestParseDigestAuthenticate(t *testing.T) {
	def, err := NewCatalog().ResolveSAM(DigestAuthenticate, SamC1)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		resp     string
		verified bool
		message  string
	}{
		{"9000", true, "Success"},
		{"6988", false, "Incorrect signature."},
		{"6D00", false, iso7816.UnknownStatusMessage},
	}

	for _, tt := range tests {
		res, err := def.Parse(nil, response(t, tt.resp))
		if err != nil {
			t.Fatalf("%s: a refused signature is not an error: %v", tt.resp, err)
		}
		got := res.(*AuthenticationResult)
		if got.Verified != tt.verified || got.Message != tt.message {
			t.Errorf("%s: got %v %q; want %v %q", tt.resp, got.Verified, got.Message, tt.verified, tt.message)
		}
	}
}

func TestParseDigestClose(t *testing.T) {
	def, err := NewCatalog().ResolveSAM(DigestClose, SamC1)
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := def.Build(LengthParams{Length: 4})
	if err != nil {
		t.Fatal(err)
	}

	res, err := def.Parse(cmd, response(t, "11223344 9000"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(tlv.Hex("11223344"), res.(*SignatureResult).Signature); diff != "" {
		t.Errorf("signature (-want +got):\n%s", diff)
	}

	if _, err := def.Parse(cmd, response(t, "11223344AABBCCDD 9000")); !errors.Is(err, ErrUnexpectedResponseLength) {
		t.Errorf("8 bytes for Le 4: error = %v", err)
	}
}

func bytesEqual(a, b []byte) bool {
	return len(a) == len(b) && string(a) == string(b)
}

// constantCard answers every frame with the same bytes.
type constantCard []byte

func (c constantCard) Transmit([]byte) ([]byte, error) { return c, nil }

func TestParse_LengthStatusLeftByClient(t *testing.T) {
	def, err := NewCatalog().Resolve(ReadRecords, Rev3_1)
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := def.Build(ReadRecordsParams{SFI: 0x07, Record: 1})
	if err != nil {
		t.Fatal(err)
	}

	tx, err := iso7816.NewClient(constantCard(tlv.Hex("6CFF"))).Exchange(context.Background(), cmd)
	if err != nil {
		t.Fatal(err)
	}
	_, err = def.Parse(tx.Command, tx.Response)

	want := &CommandRejectedError{Command: ReadRecords, Status: SwLeIncorrect, Message: "Le value incorrect."}
	rejected, ok := IsRejected(err)
	if !ok {
		t.Fatalf("error = %v, want a rejection", err)
	}
	if diff := cmp.Diff(want, rejected); diff != "" {
		t.Errorf("rejection mismatch (-want +got):\n%s", diff)
	}
}
