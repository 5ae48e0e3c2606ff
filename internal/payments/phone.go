// Package payments talks to the external payment-issuance service and
// normalizes recipient phone numbers.
package payments

// PhoneRules maps bare digit-lengths to the prefix that makes them a full
// MSISDN. The defaults match the Kenyan deployment the source data comes
// from; deployments elsewhere override them in config.
type PhoneRules struct {
	LocalDigits int    // length of a bare local number
	LocalPrefix string // prepended to local numbers, e.g. "+254"
	FullDigits  int    // length of a country-coded number missing its "+"
	FullPrefix  string // prepended to full numbers, e.g. "+"
}

// DefaultPhoneRules returns the Kenyan canonicalization rules:
// 9-digit local numbers get "+254", 12-digit numbers get a bare "+".
func DefaultPhoneRules() PhoneRules {
	return PhoneRules{LocalDigits: 9, LocalPrefix: "+254", FullDigits: 12, FullPrefix: "+"}
}

// CanonicalizePhone applies the rules to msisdn. Numbers matching neither
// length pass through unchanged.
func CanonicalizePhone(msisdn string, rules PhoneRules) string {
	switch len(msisdn) {
	case rules.LocalDigits:
		return rules.LocalPrefix + msisdn
	case rules.FullDigits:
		return rules.FullPrefix + msisdn
	}
	return msisdn
}
