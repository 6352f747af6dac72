package command

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Kind is the decoded form of a command name. Unknown names decode to
// KindUnrecognized so callers can switch on a closed set.
type Kind int

const (
	KindUnrecognized Kind = iota

	// Sent by the hub.
	KindStop
	KindFlush
	KindFlushOut
	KindMakeCall
	KindHangup
	KindBlackList
	KindSynthesize
	KindNewDialogue
	KindEndDialogue

	// Received by the hub. hangup is shared with the sent set.
	KindIncomingCall
	KindRejectedCall
	KindRejectedCallFromBlacklistedURI
	KindCallConnecting
	KindCallConfirmed
	KindCallDisconnected
	KindPlayUtteranceStart
	KindPlayUtteranceEnd
	KindSpeechStart
	KindSpeechEnd
	KindFlushed
	KindDMDAGenerated
)

// Command names on the wire.
const (
	Stop        = "stop"
	Flush       = "flush"
	FlushOut    = "flush_out"
	MakeCall    = "make_call"
	Hangup      = "hangup"
	BlackList   = "black_list"
	Synthesize  = "synthesize"
	NewDialogue = "new_dialogue"
	EndDialogue = "end_dialogue"

	IncomingCall                   = "incoming_call"
	RejectedCall                   = "rejected_call"
	RejectedCallFromBlacklistedURI = "rejected_call_from_blacklisted_uri"
	CallConnecting                 = "call_connecting"
	CallConfirmed                  = "call_confirmed"
	CallDisconnected               = "call_disconnected"
	PlayUtteranceStart             = "play_utterance_start"
	PlayUtteranceEnd               = "play_utterance_end"
	SpeechStart                    = "speech_start"
	SpeechEnd                      = "speech_end"
	Flushed                        = "flushed"
	DMDAGenerated                  = "dm_da_generated"
)

var kinds = map[string]Kind{
	Stop:        KindStop,
	Flush:       KindFlush,
	FlushOut:    KindFlushOut,
	MakeCall:    KindMakeCall,
	Hangup:      KindHangup,
	BlackList:   KindBlackList,
	Synthesize:  KindSynthesize,
	NewDialogue: KindNewDialogue,
	EndDialogue: KindEndDialogue,

	IncomingCall:                   KindIncomingCall,
	RejectedCall:                   KindRejectedCall,
	RejectedCallFromBlacklistedURI: KindRejectedCallFromBlacklistedURI,
	CallConnecting:                 KindCallConnecting,
	CallConfirmed:                  KindCallConfirmed,
	CallDisconnected:               KindCallDisconnected,
	PlayUtteranceStart:             KindPlayUtteranceStart,
	PlayUtteranceEnd:               KindPlayUtteranceEnd,
	SpeechStart:                    KindSpeechStart,
	SpeechEnd:                      KindSpeechEnd,
	Flushed:                        KindFlushed,
	DMDAGenerated:                  KindDMDAGenerated,
}

// KindOf decodes a command name.
func KindOf(name string) Kind {
	if k, ok := kinds[name]; ok {
		return k
	}
	return KindUnrecognized
}

// Command is the message exchanged between the hub and the stages, used both
// for instructions and for notifications. Treat it as immutable.
type Command struct {
	Name      string
	Kind      Kind
	Args      map[string]string
	Sender    string
	Recipient string
}

// Build creates a command. The args map is copied.
func Build(name string, args map[string]string, sender, recipient string) (Command, error) {
	if strings.TrimSpace(name) == "" {
		return Command{}, &ProtocolError{Text: name, Reason: "empty command name"}
	}
	if !isIdent(name) {
		return Command{}, &ProtocolError{Text: name, Reason: "invalid command name"}
	}
	for k := range args {
		if !isIdent(k) {
			return Command{}, &ProtocolError{Text: k, Reason: "invalid argument key"}
		}
	}
	return Command{
		Name:      name,
		Kind:      KindOf(name),
		Args:      maps.Clone(args),
		Sender:    sender,
		Recipient: recipient,
	}, nil
}

// New is Build for names and keys known to be valid. It panics otherwise.
func New(name string, args map[string]string, sender, recipient string) Command {
	c, err := Build(name, args, sender, recipient)
	if err != nil {
		panic(err)
	}
	return c
}

// Arg returns the value of key, or "" when absent.
func (c Command) Arg(key string) string {
	return c.Args[key]
}

// String serializes the command to its wire form. Keys are sorted so equal
// commands serialize identically.
func (c Command) String() string {
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(escape(c.Args[k]))
		b.WriteByte('"')
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports whether two commands carry the same name and args.
func (c Command) Equal(o Command) bool {
	return c.Name == o.Name && maps.Equal(c.Args, o.Args)
}

func escape(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// ProtocolError reports malformed command text.
type ProtocolError struct {
	Text   string
	Offset int
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("protocol: %s at offset %d in %q", e.Reason, e.Offset, e.Text)
	}
	return fmt.Sprintf("protocol: %s in %q", e.Reason, e.Text)
}
