package calypso

import (
	"maps"
	"slices"

	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/pkg/errors"
)

type (
	buildFunc func(cla iso7816.Class, params any) (*iso7816.CommandAPDU, error)
	parseFunc func(cmd *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU, status StatusResult) (Result, error)
)

// Definition is a command resolved for one revision: its encoding and how to read the answer.
type Definition struct {
	Name   CommandName
	Target Target
	Ins    iso7816.InsCode
	Class  iso7816.Class
	Table  iso7816.StatusTable

	build   buildFunc
	parse   parseFunc
	verdict bool
}

// Build encodes params, which must be the parameter struct of the command (value or pointer).
func (d Definition) Build(params any) (*iso7816.CommandAPDU, error) {
	return d.build(d.Class, params)
}

// Parse checks the status word against the command table then extracts the typed fields.
// An unsuccessful status is a *CommandRejectedError, except for Digest Authenticate whose
// verdict is carried by AuthenticationResult.Verified.
func (d Definition) Parse(cmd *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU) (Result, error) {
	if resp == nil {
		return nil, errors.Errorf("%s: no response", d.Name)
	}
	if d.verdict {
		props := d.Table.Lookup(resp.Status)
		return &AuthenticationResult{
			StatusResult: StatusResult{SW: resp.Status, Message: props.Message},
			Verified:     props.Successful,
		}, nil
	}

	status, err := checkStatus(d.Name, d.Table, resp)
	if err != nil {
		return nil, err
	}
	return d.parse(cmd, resp, status)
}

// commandSpec is the catalog entry before a revision is known.
type commandSpec struct {
	target      Target
	ins         iso7816.InsCode
	table       iso7816.StatusTable
	build       buildFunc
	parse       parseFunc
	perRevision func(PoRevision) (buildFunc, parseFunc, error)
	verdict     bool
}

// Catalog is the immutable registry of the PO and SAM commands.
// It is safe for concurrent use once built.
type Catalog struct {
	specs map[CommandName]commandSpec
}

// NewCatalog builds the registry.
func NewCatalog() *Catalog {
	return &Catalog{specs: map[CommandName]commandSpec{
		OpenSession: {
			target: TargetPO, ins: InsOpenSession, table: openSessionTable,
			perRevision: openSessionFor,
		},
		CloseSession: {
			target: TargetPO, ins: InsCloseSession, table: closeSessionTable,
			build: typed(buildCloseSession), parse: parseCloseSession,
		},
		GetChallenge: {
			target: TargetPO, ins: InsGetChallenge, table: poGetChallengeTable,
			build: noParams(buildGetChallenge), parse: parseChallenge,
		},
		ReadRecords: {
			target: TargetPO, ins: InsReadRecords, table: readRecordsTable,
			build: typed(buildReadRecords), parse: parseReadRecords,
		},
		UpdateRecord: {
			target: TargetPO, ins: InsUpdateRecord, table: updateRecordTable,
			build: typed(buildRecordCommand(InsUpdateRecord)), parse: parseStatusOnly,
		},
		WriteRecord: {
			target: TargetPO, ins: InsWriteRecord, table: writeRecordTable,
			build: typed(buildRecordCommand(InsWriteRecord)), parse: parseStatusOnly,
		},
		AppendRecord: {
			target: TargetPO, ins: InsAppendRecord, table: appendRecordTable,
			build: typed(buildAppendRecord), parse: parseStatusOnly,
		},
		Increase: {
			target: TargetPO, ins: InsIncrease, table: increaseTable,
			build: typed(buildCounterCommand(InsIncrease)), parse: parseCounter(Increase),
		},
		Decrease: {
			target: TargetPO, ins: InsDecrease, table: decreaseTable,
			build: typed(buildCounterCommand(InsDecrease)), parse: parseCounter(Decrease),
		},
		SelectFile: {
			target: TargetPO, ins: InsSelectFile, table: selectFileTable,
			perRevision: func(rev PoRevision) (buildFunc, parseFunc, error) {
				return typed(buildSelectFile(rev)), parseSelectFile, nil
			},
		},

		SamSelectDiversifier: {
			target: TargetSAM, ins: InsSelectDiversifier, table: selectDiversifierTable,
			build: typed(buildSelectDiversifier), parse: parseStatusOnly,
		},
		SamGetChallenge: {
			target: TargetSAM, ins: InsGetChallenge, table: samGetChallengeTable,
			build: typed(buildSamGetChallenge), parse: parseChallenge,
		},
		DigestInit: {
			target: TargetSAM, ins: InsDigestInit, table: digestInitTable,
			build: typed(buildDigestInit), parse: parseStatusOnly,
		},
		DigestUpdate: {
			target: TargetSAM, ins: InsDigestUpdate, table: digestUpdateTable,
			build: typed(buildDigestUpdate), parse: parseStatusOnly,
		},
		DigestUpdateMultiple: {
			target: TargetSAM, ins: InsDigestUpdateMultiple, table: digestUpdateMultipleTable,
			build: typed(buildDigestUpdateMultiple), parse: parseStatusOnly,
		},
		DigestClose: {
			target: TargetSAM, ins: InsDigestClose, table: digestCloseTable,
			build: typed(buildDigestClose), parse: parseDigestClose,
		},
		DigestAuthenticate: {
			target: TargetSAM, ins: InsDigestAuthenticate, table: digestAuthenticateTable,
			build: typed(buildDigestAuthenticate), verdict: true,
		},
	}}
}

// openSessionFor dispatches the open session variant on the PO revision.
func openSessionFor(rev PoRevision) (buildFunc, parseFunc, error) {
	v, ok := openSessionVariants[rev]
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnsupportedRevision, "no open session command for %s", rev)
	}

	parse := func(_ *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU, status StatusResult) (Result, error) {
		r, err := v.parse(resp.Data)
		if err != nil {
			return nil, err
		}
		r.StatusResult = status
		return r, nil
	}
	return typed(v.build), parse, nil
}

// Resolve returns the PO command name for a PO of revision rev.
func (c *Catalog) Resolve(name CommandName, rev PoRevision) (Definition, error) {
	s, ok := c.specs[name]
	if !ok || s.target != TargetPO {
		return Definition{}, errors.Wrapf(ErrUnknownCommand, "PO command %s", name)
	}
	cla, err := rev.Class()
	if err != nil {
		return Definition{}, err
	}

	build, parse := s.build, s.parse
	if s.perRevision != nil {
		if build, parse, err = s.perRevision(rev); err != nil {
			return Definition{}, err
		}
	}
	return s.definition(name, cla, build, parse), nil
}

// ResolveSAM returns the SAM command name for a SAM of revision rev.
func (c *Catalog) ResolveSAM(name CommandName, rev SamRevision) (Definition, error) {
	s, ok := c.specs[name]
	if !ok || s.target != TargetSAM {
		return Definition{}, errors.Wrapf(ErrUnknownCommand, "SAM command %s", name)
	}
	cla, err := rev.Class()
	if err != nil {
		return Definition{}, err
	}
	return s.definition(name, cla, s.build, s.parse), nil
}

func (s commandSpec) definition(name CommandName, cla iso7816.Class, build buildFunc, parse parseFunc) Definition {
	return Definition{
		Name:    name,
		Target:  s.target,
		Ins:     s.ins,
		Class:   cla,
		Table:   s.table,
		build:   build,
		parse:   parse,
		verdict: s.verdict,
	}
}

// CheckConsistency verifies that cmd carries the instruction byte registered for name.
func (c *Catalog) CheckConsistency(cmd *iso7816.CommandAPDU, name CommandName) error {
	s, ok := c.specs[name]
	if !ok {
		return errors.Wrapf(ErrUnknownCommand, "%s", name)
	}
	if cmd == nil || cmd.Instruction.Raw != s.ins {
		got := "none"
		if cmd != nil {
			got = cmd.Instruction.Raw.Name()
		}
		return errors.Wrapf(ErrInconsistentCommand, "%s expects %s, command carries %s", name, s.ins.Name(), got)
	}
	return nil
}

// Names lists the registered commands in alphabetical order.
func (c *Catalog) Names() []CommandName {
	return slices.Sorted(maps.Keys(c.specs))
}

// typed adapts a builder taking its parameter struct to the catalog signature.
func typed[P any](f func(iso7816.Class, P) (*iso7816.CommandAPDU, error)) buildFunc {
	return func(cla iso7816.Class, params any) (*iso7816.CommandAPDU, error) {
		switch p := params.(type) {
		case P:
			return f(cla, p)
		case *P:
			if p != nil {
				return f(cla, *p)
			}
		}
		var want P
		return nil, errors.Wrapf(ErrMalformedCommand, "parameters %T, want %T", params, want)
	}
}

func noParams(f func(iso7816.Class) *iso7816.CommandAPDU) buildFunc {
	return func(cla iso7816.Class, _ any) (*iso7816.CommandAPDU, error) {
		return f(cla), nil
	}
}
