/*
Package calypso implements the Calypso command set of the portable object (PO) and of the SAM,
and the secure session engine that sequences them.

# Commands

Every command is registered in a Catalog under a CommandName. Resolving a name against a
revision returns a Definition: the instruction byte, the status table and the build/parse pair
for that revision. "Open Secure Session" is the only command whose encoding depends on the PO
revision beyond the class byte; its three variants are dispatched from a table keyed by
PoRevision.

# Secure session

A Session drives the PO and the SAM through:

	SAM  Select Diversifier (PO serial number)
	SAM  Get Challenge
	PO   Open Secure Session (SAM challenge)      -> digest trace entry #1
	SAM  Digest Init (open session response)
	     ... PO commands, each mirrored by SAM Digest Update ...
	SAM  Digest Close                             -> terminal half-signature
	PO   Close Secure Session (half-signature)    -> card half-signature
	SAM  Digest Authenticate (card half-signature)

The SAM digest must see exactly what the PO saw, in the same order. A rejected command or a
transport failure ends the session; sessions are single use.

# Usage Example

	engine := calypso.NewEngine(poClient, samClient, calypso.WithLogger(logger))

	session, err := engine.NewSession(calypso.Rev3_1, serial)
	if err != nil {
	    return err
	}
	if _, err := session.Open(ctx, calypso.OpenParams{KeyIndex: 3, SFI: 0x07, RecordNumber: 1}); err != nil {
	    return err
	}
	if _, err := session.Execute(ctx, calypso.UpdateRecord, calypso.RecordParams{SFI: 0x08, Record: 1, Data: data}); err != nil {
	    return err
	}
	outcome, err := session.Close(ctx, calypso.CloseParams{Ratify: true})
	if err != nil {
	    return err
	}
	if !outcome.Verified {
	    // the card signature was refused by the SAM
	}
*/
package calypso
