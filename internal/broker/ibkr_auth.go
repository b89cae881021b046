package broker

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"brokerhub/internal/config"
)

// RFC 3526 MODP group 14 (2048-bit), the default Diffie-Hellman group when
// the broker does not supply one.
const defaultDHPrimeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B" +
	"302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B" +
	"0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD96" +
	"1C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C" +
	"32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68" +
	"FFFFFFFFFFFFFFFF"

// oauth1Signer implements the extended OAuth 1.0a scheme: RSA-SHA256
// signatures during the token handshake, then HMAC-SHA256 signatures keyed
// by the Diffie-Hellman derived live session token for every API call.
type oauth1Signer struct {
	consumerKey string
	realm       string
	privateKey  *rsa.PrivateKey
	dhPrime     *big.Int
	dhGenerator *big.Int
}

// newOAuth1Signer loads the consumer's RSA private key and Diffie-Hellman
// group from configuration.
func newOAuth1Signer(cfg config.IBKR) (*oauth1Signer, error) {
	keyPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	key, err := parseRSAPrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	primeHex := cfg.DHPrimeHex
	if primeHex == "" {
		primeHex = defaultDHPrimeHex
	}
	prime, ok := new(big.Int).SetString(primeHex, 16)
	if !ok {
		return nil, fmt.Errorf("invalid diffie-hellman prime")
	}
	gen := int64(cfg.DHGenerator)
	if gen == 0 {
		gen = 2
	}

	return &oauth1Signer{
		consumerKey: cfg.ConsumerKey,
		realm:       cfg.Realm,
		privateKey:  key,
		dhPrime:     prime,
		dhGenerator: big.NewInt(gen),
	}, nil
}

func parseRSAPrivateKey(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// oauthParams returns the protocol parameters common to every signed
// request.
func (s *oauth1Signer) oauthParams(method string) map[string]string {
	nonce := make([]byte, 16)
	rand.Read(nonce)
	return map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            hex.EncodeToString(nonce),
		"oauth_timestamp":        fmt.Sprintf("%d", time.Now().Unix()),
		"oauth_signature_method": method,
		"oauth_version":          "1.0",
	}
}

// baseString builds the OAuth signature base string: the uppercased method,
// the request URL without query, and the sorted percent-encoded parameters,
// each segment percent-encoded and joined by ampersands.
func baseString(method, rawURL string, params map[string]string) string {
	u, _ := url.Parse(rawURL)
	base := u.Scheme + "://" + u.Host + u.Path

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(params[k]))
	}

	return strings.ToUpper(method) + "&" + percentEncode(base) + "&" +
		percentEncode(strings.Join(pairs, "&"))
}

// percentEncode applies RFC 5849 percent encoding, which is stricter than
// url.QueryEscape about the unreserved set.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// signRSA produces an RSA-SHA256 signature over the base string. Used for
// the request-token, access-token, and live-session-token handshakes.
func (s *oauth1Signer) signRSA(method, rawURL string, params map[string]string) (string, error) {
	digest := sha256.Sum256([]byte(baseString(method, rawURL, params)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// signHMAC produces an HMAC-SHA256 signature over the base string, keyed by
// the decoded live session token. Used for every API call after the
// handshake.
func signHMAC(lst []byte, method, rawURL string, params map[string]string) string {
	mac := hmac.New(sha256.New, lst)
	mac.Write([]byte(baseString(method, rawURL, params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// authHeader assembles the Authorization header from the realm, protocol
// parameters, and computed signature.
func (s *oauth1Signer) authHeader(params map[string]string, signature string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`OAuth realm="` + s.realm + `"`)
	for _, k := range keys {
		b.WriteString(`, ` + k + `="` + percentEncode(params[k]) + `"`)
	}
	b.WriteString(`, oauth_signature="` + percentEncode(signature) + `"`)
	return b.String()
}

// ---------------------------------------------------------------------------
// Diffie-Hellman live session token
// ---------------------------------------------------------------------------

// dhExchange holds one side of a Diffie-Hellman handshake.
type dhExchange struct {
	private   *big.Int
	challenge *big.Int
}

// newDHExchange draws a random exponent and computes the challenge
// g^a mod p sent to the broker.
func (s *oauth1Signer) newDHExchange() (*dhExchange, error) {
	// Exponent in [2, p-2].
	max := new(big.Int).Sub(s.dhPrime, big.NewInt(3))
	a, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, fmt.Errorf("generating dh exponent: %w", err)
	}
	a.Add(a, big.NewInt(2))
	return &dhExchange{
		private:   a,
		challenge: new(big.Int).Exp(s.dhGenerator, a, s.dhPrime),
	}, nil
}

// ChallengeHex returns the challenge value as lowercase hex for the
// live-session-token request.
func (d *dhExchange) ChallengeHex() string {
	return d.challenge.Text(16)
}

// liveSessionToken derives the session token from the broker's response
// B^a mod p and the access token: LST = HMAC-SHA256(sharedSecret,
// accessToken), base64-encoded.
func (s *oauth1Signer) liveSessionToken(d *dhExchange, responseHex, accessToken string) (string, error) {
	b, ok := new(big.Int).SetString(responseHex, 16)
	if !ok {
		return "", fmt.Errorf("invalid dh response")
	}
	shared := new(big.Int).Exp(b, d.private, s.dhPrime)

	mac := hmac.New(sha256.New, shared.Bytes())
	mac.Write([]byte(accessToken))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// ---------------------------------------------------------------------------
// OAuth2 client assertion
// ---------------------------------------------------------------------------

// clientAssertion builds a short-lived RS256 JWT identifying the consumer
// to the OAuth2 token endpoint. Each assertion carries a unique jti so the
// broker can reject replays.
func (s *oauth1Signer) clientAssertion(audience string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": s.consumerKey,
		"sub": s.consumerKey,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing client assertion: %w", err)
	}
	return signed, nil
}
