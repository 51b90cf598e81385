package shouter

import (
	"strings"
)

// poisonToken triggers the fatal outcome, used for fault-injection testing.
const poisonToken = "chickens"

const poisonReason = "Oh no! Chickens!"

// Outcome is the result of transforming one message body. Exactly one of
// Success or Failure is produced per message.
type Outcome interface {
	outcome()
}

type Success struct {
	Result string
}

type Failure struct {
	Reason string
	Fatal  bool
}

func (Success) outcome() {}
func (Failure) outcome() {}

// Transform interprets the message body as UTF-8 text and shouts it.
// Pure: the only externally observable effects happen later, when the
// outcome is reported.
func Transform(body []byte) Outcome {
	text := string(body)
	if strings.Contains(strings.ToLower(text), poisonToken) {
		return Failure{Reason: poisonReason, Fatal: true}
	}

	return Success{Result: strings.ToUpper(text)}
}
