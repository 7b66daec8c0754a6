package recognizer

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

var (
	reURL = regexp.MustCompile(`(?:https?://|ftp://|www\.)[^\s]+\.(?:com|net|org|edu|gov|mil|int|br|app|dev|io|co|uk|de|fr|es|it|ru|cn|jp|kr|au|ca|mx|ar|cl|pe|co\.uk|com\.br|org\.br|gov\.br|edu\.br|net\.br|vercel\.app|herokuapp\.com|github\.io|gitlab\.io|netlify\.app|firebase\.app|appspot\.com|cloudfront\.net|amazonaws\.com|azure\.com|digitalocean\.com)[^\s]*`)
	reIPv4       = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reIPv6       = regexp.MustCompile(`[0-9A-Fa-f]*:[0-9A-Fa-f:.]*[0-9A-Fa-f]`)
	reFQDN       = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`)
	reLocalhost  = regexp.MustCompile(`\blocalhost\b`)
	reCN         = regexp.MustCompile(`CN=([a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]|[a-f0-9]{8,16})\b`)
	reHexHost    = regexp.MustCompile(`\b[a-f0-9]{12,16}\b`)
	reYearDigits = regexp.MustCompile(`^20\d{10}`)
	reSHA256     = regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`)
	reMD5Colon   = regexp.MustCompile(`\b(?:[0-9a-fA-F]{2}:){15}[0-9a-fA-F]{2}\b`)
	reUUID       = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	reSerial     = regexp.MustCompile(`\b[0-9a-fA-F]{40}\b`)
	reCPE        = regexp.MustCompile(`\bcpe:/[a-z]:[^:\s]+:[^:\s]+(?::[^:\s]+){0,4}\b`)
	reCertBody   = regexp.MustCompile(`\bMII[a-zA-Z0-9+/=\n]{100,}\b`)
	reEmail      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	reCard       = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)
)

// Default returns a registry holding the built-in technical recognizers.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister("url", types.EntityURL, 0.7, RegexMatcher(reURL, 0))
	r.MustRegister("ipv4", types.EntityIPAddress, 0.6, RegexMatcher(reIPv4, 0, notAfterDigitDot, notBeforeDotDigit, octetsInRange))
	r.MustRegister("ipv6", types.EntityIPAddress, 0.6, RegexMatcher(reIPv6, 0, isolatedIPv6, parsesAsIPv6))
	r.MustRegister("fqdn", types.EntityHostname, 0.6, RegexMatcher(reFQDN, 0))
	r.MustRegister("localhost", types.EntityHostname, 0.65, RegexMatcher(reLocalhost, 0))
	r.MustRegister("cn", types.EntityHostname, 0.7, RegexMatcher(reCN, 1))
	r.MustRegister("hex-host", types.EntityHostname, 0.6, RegexMatcher(reHexHost, 0, notAfter(":/vV"), notBefore("."), notYearDigits))
	r.MustRegister("sha256", types.EntityHash, 0.8, RegexMatcher(reSHA256, 0))
	r.MustRegister("md5-colon", types.EntityHash, 0.85, RegexMatcher(reMD5Colon, 0))
	r.MustRegister("uuid", types.EntityUUID, 0.8, RegexMatcher(reUUID, 0))
	r.MustRegister("cert-serial", types.EntityCertSerial, 0.75, RegexMatcher(reSerial, 0))
	r.MustRegister("cpe", types.EntityCPE, 0.7, RegexMatcher(reCPE, 0))
	r.MustRegister("cert-body", types.EntityCertBody, 0.8, RegexMatcher(reCertBody, 0))
	r.MustRegister("email", types.EntityEmail, 1.0, RegexMatcher(reEmail, 0))
	r.MustRegister("credit-card", types.EntityCreditCard, 0.9, RegexMatcher(reCard, 0, luhnValid))
	return r
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isAlnum(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_'
}

// notAfterDigitDot rejects a match preceded by "<digit>.".
func notAfterDigitDot(text string, start, _ int) bool {
	return !(start >= 2 && text[start-1] == '.' && isDigit(text[start-2]))
}

// notBeforeDotDigit rejects a match followed by ".<digit>".
func notBeforeDotDigit(text string, _, end int) bool {
	return !(end+1 < len(text) && text[end] == '.' && isDigit(text[end+1]))
}

func octetsInRange(text string, start, end int) bool {
	for _, part := range strings.Split(text[start:end], ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

func isolatedIPv6(text string, start, end int) bool {
	if start > 0 && (isAlnum(text[start-1]) || text[start-1] == ':') {
		return false
	}
	if end < len(text) && isAlnum(text[end]) {
		return false
	}
	return strings.Count(text[start:end], ":") >= 2
}

func parsesAsIPv6(text string, start, end int) bool {
	addr, err := netip.ParseAddr(text[start:end])
	return err == nil && addr.Is6()
}

// notAfter rejects a match whose preceding byte is one of chars.
func notAfter(chars string) Validator {
	return func(text string, start, _ int) bool {
		return start == 0 || !strings.ContainsRune(chars, rune(text[start-1]))
	}
}

// notBefore rejects a match whose following byte is one of chars.
func notBefore(chars string) Validator {
	return func(text string, _, end int) bool {
		return end >= len(text) || !strings.ContainsRune(chars, rune(text[end]))
	}
}

// notYearDigits rejects "20" followed by ten digits, which is a timestamp.
func notYearDigits(text string, start, _ int) bool {
	return !reYearDigits.MatchString(text[start:])
}

func luhnValid(text string, start, end int) bool {
	var digits []int
	for i := start; i < end; i++ {
		if isDigit(text[i]) {
			digits = append(digits, int(text[i]-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if (len(digits)-1-i)%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}
