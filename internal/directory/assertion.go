package directory

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// ControlTypeAssertion is the LDAP Assertion control OID (RFC 4528).
const ControlTypeAssertion = "1.3.6.1.1.12"

// assertionControl attaches an assertion filter to a request: the
// server performs the operation only if the filter matches the target
// entry, making conditional modifies a single atomic write instead of
// a read-then-write race.
type assertionControl struct {
	filter *ber.Packet
	text   string
}

// newAssertionControl compiles filterText into an assertion control.
func newAssertionControl(filterText string) (ldap.Control, error) {
	packet, err := ldap.CompileFilter(filterText)
	if err != nil {
		return nil, fmt.Errorf("compiling assertion filter %q: %w", filterText, err)
	}
	return &assertionControl{filter: packet, text: filterText}, nil
}

func (c *assertionControl) GetControlType() string { return ControlTypeAssertion }

func (c *assertionControl) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString,
		ControlTypeAssertion, "Control Type (Assertion)"))
	packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean,
		true, "Criticality"))

	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil,
		"Control Value (Assertion Filter)")
	value.AppendChild(c.filter)
	packet.AppendChild(value)
	return packet
}

func (c *assertionControl) String() string {
	return fmt.Sprintf("Assertion Control (%s) filter=%s", ControlTypeAssertion, c.text)
}
