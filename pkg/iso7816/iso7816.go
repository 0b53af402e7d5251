/*
Package iso7816 implements the APDU layer shared by Calypso portable objects (PO) and SAMs,
according to ISO/IEC 7816-3 and 7816-4.

It provides the Command and Response structures with their short-length encoding, Status Word
analysis and the StatusTable type used to interpret a status word in the context of one command.
It also provides the Client that drives a physical connection (61XX / 6CXX handling) and the
Trace of the exchanged frames.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Success, but response data is still available (XX bytes).
  - 0x6CXX: Error, wrong length expectation (XX is the correct length).
  - Other: Various error conditions.

The generic meaning of a status word (Verbose) is not enough to decide whether a command
succeeded: '6200' is a warning for most commands and a plain success for others. A StatusTable
maps each expected status word of one command to its success flag and message.

# Usage Example: Exchanging a command

	client := iso7816.NewClient(reader).WithLogger(logger)

	cmd := iso7816.SelectByAID(iso7816.MustClass(0x00), aid)
	tx, err := client.Exchange(ctx, cmd)
	if iso7816.IsTransportError(err) {
	    // card removed, reader failure...
	}

	table := iso7816.BaseStatusTable().With(iso7816.Failures(map[iso7816.StatusWord]string{
	    iso7816.SW_ERR_FILE_NOT_FOUND: "Application not found",
	}))
	fmt.Println(table.Lookup(tx.Response.Status).Message)
*/
package iso7816
