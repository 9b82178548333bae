package siwe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-labs/cerberus/core"
)

const headerSuffix = " wants you to sign in with your Ethereum account:"

// Message is a parsed EIP-4361 (Sign-In with Ethereum) message. Parsing is
// strict: a missing or malformed required field fails instead of defaulting.
type Message struct {
	Domain    string
	Address   string
	Statement string
	URI       string
	Version   string
	ChainID   int64
	Nonce     string
	IssuedAt  time.Time

	// Optional fields; zero when absent.
	ExpirationTime time.Time
	NotBefore      time.Time
	RequestID      string
	Resources      []string
}

// Parse parses the raw signed-message text into a Message. Any missing
// required field, unknown field ordering, or unparsable timestamp returns
// core.ErrMessageMalformed.
func Parse(raw string) (*Message, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) < 3 {
		return nil, malformed("message too short")
	}

	domain, ok := strings.CutSuffix(lines[0], headerSuffix)
	if !ok || domain == "" {
		return nil, malformed("missing header line")
	}

	address := strings.TrimSpace(lines[1])
	if address == "" {
		return nil, malformed("missing address line")
	}
	if lines[2] != "" {
		return nil, malformed("expected blank line after address")
	}

	msg := &Message{Domain: domain, Address: address}

	// Everything between the blank line and the first "URI:" field is the
	// optional statement.
	i := 3
	var statement []string
	for ; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "URI: ") {
			break
		}
		statement = append(statement, lines[i])
	}
	if i == len(lines) {
		return nil, malformed("missing URI field")
	}
	msg.Statement = strings.TrimSpace(strings.Join(statement, "\n"))

	fields, err := parseFields(lines[i:])
	if err != nil {
		return nil, err
	}

	msg.URI = fields["URI"]
	msg.Version = fields["Version"]
	msg.Nonce = fields["Nonce"]
	for _, required := range []string{"URI", "Version", "Chain ID", "Nonce", "Issued At"} {
		if fields[required] == "" {
			return nil, malformed("missing " + required + " field")
		}
	}

	msg.ChainID, err = strconv.ParseInt(fields["Chain ID"], 10, 64)
	if err != nil {
		return nil, malformed("invalid Chain ID")
	}
	msg.IssuedAt, err = time.Parse(time.RFC3339, fields["Issued At"])
	if err != nil {
		return nil, malformed("invalid Issued At timestamp")
	}
	if v := fields["Expiration Time"]; v != "" {
		msg.ExpirationTime, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, malformed("invalid Expiration Time timestamp")
		}
	}
	if v := fields["Not Before"]; v != "" {
		msg.NotBefore, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, malformed("invalid Not Before timestamp")
		}
	}
	msg.RequestID = fields["Request ID"]
	msg.Resources = parseResources(lines[i:])

	return msg, nil
}

// parseFields collects the "Name: value" field lines that follow the
// statement block.
func parseFields(lines []string) (map[string]string, error) {
	known := []string{"URI", "Version", "Chain ID", "Nonce", "Issued At", "Expiration Time", "Not Before", "Request ID"}
	fields := make(map[string]string, len(known))
	for _, line := range lines {
		if line == "" || line == "Resources:" || strings.HasPrefix(line, "- ") {
			continue
		}
		name, value, found := strings.Cut(line, ": ")
		if !found {
			return nil, malformed("unparsable field line")
		}
		matched := false
		for _, k := range known {
			if name == k {
				matched = true
				break
			}
		}
		if !matched {
			return nil, malformed("unknown field " + name)
		}
		if _, dup := fields[name]; dup {
			return nil, malformed("duplicate field " + name)
		}
		fields[name] = value
	}
	return fields, nil
}

func parseResources(lines []string) []string {
	var resources []string
	collecting := false
	for _, line := range lines {
		if line == "Resources:" {
			collecting = true
			continue
		}
		if collecting {
			uri, ok := strings.CutPrefix(line, "- ")
			if !ok {
				break
			}
			resources = append(resources, uri)
		}
	}
	return resources
}

// String renders the message in its canonical EIP-4361 layout. Signing and
// verification both operate on these exact bytes.
func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n%s\n", m.Domain, headerSuffix, m.Address)
	if m.Statement != "" {
		fmt.Fprintf(&b, "\n%s\n", m.Statement)
	}
	fmt.Fprintf(&b, "\nURI: %s\n", m.URI)
	fmt.Fprintf(&b, "Version: %s\n", m.Version)
	fmt.Fprintf(&b, "Chain ID: %d\n", m.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", m.IssuedAt.Format(time.RFC3339))
	if !m.ExpirationTime.IsZero() {
		fmt.Fprintf(&b, "\nExpiration Time: %s", m.ExpirationTime.Format(time.RFC3339))
	}
	if !m.NotBefore.IsZero() {
		fmt.Fprintf(&b, "\nNot Before: %s", m.NotBefore.Format(time.RFC3339))
	}
	if m.RequestID != "" {
		fmt.Fprintf(&b, "\nRequest ID: %s", m.RequestID)
	}
	if len(m.Resources) > 0 {
		b.WriteString("\nResources:")
		for _, r := range m.Resources {
			fmt.Fprintf(&b, "\n- %s", r)
		}
	}
	return b.String()
}

func malformed(detail string) error {
	return fmt.Errorf("%s: %w", detail, core.ErrMessageMalformed)
}
