package calypso

import "github.com/gregLibert/calypso/pkg/iso7816"

// Calypso status words not named by ISO 7816-4.
const (
	SwTooManyModifications = iso7816.SW_ERR_EXEC_NO_INFO // '6400' in a session
	SwIncorrectSignature   = iso7816.SW_ERR_SM_OBJ_INCORRECT
	SwCounterOverflow      = iso7816.SW_ERR_INCORRECT_PARAMS_DATA
	SwIncorrectP2          = iso7816.SW_ERR_WRONG_PARAMS_NO_INFO

	// The transport consumes most 61XX and 6CXX answers. These two reach a table only
	// through an Exchanger that passes them on, or when iso7816.Client gives up: a 6CXX to a
	// case 4 command or to an already corrected one.
	SwLeIncorrect iso7816.StatusWord = 0x6CFF
	SwT0Success   iso7816.StatusWord = 0x6103
)

func failures(m map[iso7816.StatusWord]string) iso7816.StatusTable {
	return iso7816.BaseStatusTable().With(iso7816.Failures(m))
}

// Status tables, one per command, built once.
var (
	openSessionTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH:            "Lc value not supported.",
		iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO: "Transaction Counter is 0.",
		iso7816.SW_ERR_CMD_INCOMPATIBLE_FILE:   "Command forbidden (read requested and current EF is a Binary file).",
		iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: "Security conditions not fulfilled (PIN code not presented, AES key forbidding the compatibility mode, encryption required).",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     "Access forbidden (Never access mode, Session already opened).",
		iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF:   "Command not allowed (read requested and no current EF).",
		iso7816.SW_ERR_FUNC_NOT_SUPPORTED:      "Wrong key index.",
		iso7816.SW_ERR_FILE_NOT_FOUND:          "File not found.",
		iso7816.SW_ERR_RECORD_NOT_FOUND:        "Record not found (record index is above NumRec).",
		iso7816.SW_ERR_WRONG_P1P2:              "P1 or P2 value not supported (key index incorrect, wrong P2).",
	})

	closeSessionTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH:        "Lc signatureLo not supported (e.g. Lc=4 with a Revision 3.2 mode for Open Secure Session).",
		iso7816.SW_ERR_WRONG_P1P2:          "P1 or P2 signatureLo not supported.",
		SwIncorrectSignature:               "Incorrect signatureLo.",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT: "No session was opened.",
	})

	poGetChallengeTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH: "Le value not supported.",
		iso7816.SW_ERR_WRONG_P1P2:   "Incorrect P1 or P2.",
	})

	readRecordsTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_CMD_INCOMPATIBLE_FILE:   "Command forbidden on binary files.",
		iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: "Security conditions not fulfilled (PIN code not presented, encryption required).",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     "Access forbidden (Never access mode, stored value log file and a stored value operation was done during the current session).",
		iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF:   "Command not allowed (no current EF).",
		iso7816.SW_ERR_FILE_NOT_FOUND:          "File not found.",
		iso7816.SW_ERR_RECORD_NOT_FOUND:        "Record not found (record index is 0, or above NumRec).",
		iso7816.SW_ERR_WRONG_P1P2:              "P2 value not supported.",
		SwLeIncorrect:                          "Le value incorrect.",
	})

	updateRecordTable = failures(map[iso7816.StatusWord]string{
		SwTooManyModifications:                 "Too many modifications in session.",
		iso7816.SW_ERR_WRONG_LENGTH:            "Lc value not supported.",
		iso7816.SW_ERR_CMD_INCOMPATIBLE_FILE:   "Command forbidden on cyclic files when the record exists and is not record 01 and on binary files.",
		iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: "Security conditions not fulfilled (no session, wrong key, encryption required).",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     "Access forbidden (Never access mode, DF is invalidated, etc..).",
		iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF:   "Command not allowed (no current EF).",
		iso7816.SW_ERR_FILE_NOT_FOUND:          "File not found.",
		iso7816.SW_ERR_RECORD_NOT_FOUND:        "Record is not found (record index is 0 or above NumRec).",
		iso7816.SW_ERR_WRONG_P1P2:              "P2 value not supported.",
	})

	writeRecordTable = updateRecordTable

	appendRecordTable = failures(map[iso7816.StatusWord]string{
		SwTooManyModifications:                 "Too many modifications in session.",
		iso7816.SW_ERR_WRONG_LENGTH:            "Lc value not supported.",
		iso7816.SW_ERR_CMD_INCOMPATIBLE_FILE:   "The current EF is not a Cyclic EF.",
		iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: "Security conditions not fulfilled (no session, wrong key).",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     "Access forbidden (Never access mode, DF is invalidated, etc..).",
		iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF:   "Command not allowed (no current EF).",
		iso7816.SW_ERR_FILE_NOT_FOUND:          "File not found.",
		iso7816.SW_ERR_WRONG_P1P2:              "P1 or P2 value not supported.",
	})

	increaseTable = counterTable("Overflow error.")
	decreaseTable = counterTable("Underflow error.")

	selectFileTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH:   "Lc value not supported.",
		iso7816.SW_ERR_FILE_NOT_FOUND: "File not found.",
		iso7816.SW_ERR_WRONG_P1P2:     "P1 or P2 value not supported.",
	})

	selectDiversifierTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH:        "Incorrect Lc.",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT: "Preconditions not satisfied: the SAM is locked or a session is running.",
		iso7816.SW_ERR_WRONG_P1P2:          "Incorrect P1 or P2.",
	})

	samGetChallengeTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH: "Incorrect Le.",
		iso7816.SW_ERR_WRONG_P1P2:   "Incorrect P1 or P2.",
	})

	digestInitTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH:            "Incorrect Lc.",
		iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO: "An event counter cannot be incremented.",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     "Preconditions not satisfied.",
		SwIncorrectP2:                          "Incorrect P2.",
		iso7816.SW_ERR_RECORD_NOT_FOUND:        "Record not found: signing key not found.",
		iso7816.SW_ERR_WRONG_P1P2:              "Incorrect P1.",
	})

	digestUpdateTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH:        "Incorrect Lc.",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT: "Preconditions not satisfied.",
		iso7816.SW_ERR_WRONG_P1P2:          "Incorrect P1.",
		SwIncorrectSignature:               "Incorrect signature.",
	})

	digestUpdateMultipleTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH:            "Incorrect Lc.",
		iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO: "Transaction Counter is 0.",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     "Preconditions not satisfied.",
		SwIncorrectP2:                          "Incorrect P2.",
		iso7816.SW_ERR_WRONG_P1P2:              "Incorrect P1.",
	})

	digestCloseTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH:        "Incorrect Lc.",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT: "Preconditions not satisfied.",
	})

	digestAuthenticateTable = failures(map[iso7816.StatusWord]string{
		iso7816.SW_ERR_WRONG_LENGTH:        "Incorrect Lc.",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT: "Preconditions not satisfied.",
		SwIncorrectSignature:               "Incorrect signature.",
	})
)

func counterTable(limitMessage string) iso7816.StatusTable {
	return iso7816.BaseStatusTable().With(iso7816.Failures(map[iso7816.StatusWord]string{
		SwTooManyModifications:                 "Too many modifications in session.",
		iso7816.SW_ERR_WRONG_LENGTH:            "Lc value not supported.",
		iso7816.SW_ERR_CMD_INCOMPATIBLE_FILE:   "The current EF is not a Counters or Simulated Counter EF.",
		iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: "Security conditions not fulfilled (no session, wrong key, encryption required).",
		iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     "Access forbidden (Never access mode, DF is invalidated, etc..).",
		iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF:   "Command not allowed (no current EF).",
		SwCounterOverflow:                      limitMessage,
		iso7816.SW_ERR_FILE_NOT_FOUND:          "File not found.",
		iso7816.SW_ERR_RECORD_NOT_FOUND:        "Record is not found (record index is 0 or above NumRec).",
		iso7816.SW_ERR_WRONG_P1P2:              "P2 value not supported.",
	})).With(map[iso7816.StatusWord]iso7816.StatusProperties{
		SwT0Success: {Successful: true, Message: "Successful execution (possible only in ISO7816 T=0)."},
	})
}
