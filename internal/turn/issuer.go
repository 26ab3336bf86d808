package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/ecovate/turnrest/internal/config"
	"github.com/google/uuid"
)

// Response is the credential document returned to clients. Its shape follows
// the TURN REST API draft, with the ICE server list in the form accepted by
// RTCPeerConnection.
type Response struct {
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	TTL        int64       `json:"ttl"`
	IceServers []IceServer `json:"iceServers"`
}

type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Issuer creates time-limited TURN credentials using the shared secret
// mechanism: the user name carries the expiry time, and the password is an
// HMAC of the user name that the TURN server can recompute.
type Issuer struct {
	cfg config.TurnConfig
	now func() time.Time
}

func NewIssuer(cfg config.TurnConfig) *Issuer {
	return &Issuer{
		cfg: cfg,
		now: time.Now,
	}
}

// DefaultTTL is the lifetime used when Issue is not given one.
func (i *Issuer) DefaultTTL() time.Duration {
	return time.Duration(i.cfg.TTLSeconds) * time.Second
}

// Issue creates credentials for user valid for ttl. An empty user is replaced
// by a generated name, and a configured forced user takes precedence over
// both. A ttl of zero or less uses the configured default.
func (i *Issuer) Issue(user string, ttl time.Duration) Response {
	seconds := int64(ttl / time.Second)
	if seconds <= 0 {
		seconds = i.cfg.TTLSeconds
	}

	if user == "" {
		user = RandomUserName()
	}
	if i.cfg.ForcedUser != "" {
		user = i.cfg.ForcedUser
	}

	var username, password string
	if i.cfg.ForcedPassword != "" {
		username = i.cfg.ForcedUser
		password = i.cfg.ForcedPassword
	} else {
		expiry := i.now().Unix() + seconds
		username = strconv.FormatInt(expiry, 10) + ":" + user
		password = Sign(i.cfg.SecretKey, username)
	}

	servers := []IceServer{
		{
			URLs:       i.cfg.TURNURIs,
			Username:   username,
			Credential: password,
		},
	}
	if len(i.cfg.STUNURIs) > 0 {
		servers = append(servers, IceServer{URLs: i.cfg.STUNURIs})
	}

	return Response{
		Username:   username,
		Password:   password,
		TTL:        seconds,
		IceServers: servers,
	}
}

// Sign returns the base64-encoded HMAC-SHA1 of username keyed with secret,
// which is the password a TURN server expects for a time-limited user name.
func Sign(secret string, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RandomUserName generates a user name for requests that carry no identity.
func RandomUserName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "user-" + id[:16]
}
