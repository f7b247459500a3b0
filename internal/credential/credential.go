// Package credential генерирует ключ доступа к VPN и конфиг клиента.
// Содержимое конфига для остальной системы непрозрачно.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"
)

const (
	keyPrefix = "vpn-"
	keyLength = 32
	alphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	ProtocolWireGuard = "wireguard"
)

// Config: клиентский конфиг, который сохраняется в subscriptions.vpn_config.
type Config struct {
	Key        string   `json:"key"`
	Protocol   string   `json:"protocol"`
	Server     string   `json:"server"`
	DNS        []string `json:"dns"`
	ClientID   string   `json:"clientId"`
	PrivateKey string   `json:"privateKey"`
	PublicKey  string   `json:"publicKey"`
}

type Credential struct {
	Key    string
	Config Config
}

// ConfigJSON: конфиг в виде JSON для колонки jsonb.
func (c *Credential) ConfigJSON() ([]byte, error) {
	return json.Marshal(c.Config)
}

type Generator struct {
	server string
	dns    []string
	rand   io.Reader
}

func NewGenerator(server string, dns []string) *Generator {
	return &Generator{server: server, dns: dns, rand: rand.Reader}
}

// AccessKey: "vpn-" и 32 случайных буквенно-цифровых символа.
func (g *Generator) AccessKey() (string, error) {
	buf := make([]byte, keyLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(g.rand, max)
		if err != nil {
			return "", fmt.Errorf("access key: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return keyPrefix + string(buf), nil
}

// Generate выпускает ключ доступа и пару ключей WireGuard.
func (g *Generator) Generate() (*Credential, error) {
	key, err := g.AccessKey()
	if err != nil {
		return nil, err
	}

	var priv [32]byte
	if _, err := io.ReadFull(g.rand, priv[:]); err != nil {
		return nil, fmt.Errorf("wireguard key: %w", err)
	}
	priv[0] &= 248
	priv[31] = (priv[31] & 127) | 64
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("wireguard key: %w", err)
	}

	clientID, err := uuid.NewRandomFromReader(g.rand)
	if err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}

	return &Credential{
		Key: key,
		Config: Config{
			Key:        key,
			Protocol:   ProtocolWireGuard,
			Server:     g.server,
			DNS:        g.dns,
			ClientID:   clientID.String(),
			PrivateKey: base64.StdEncoding.EncodeToString(priv[:]),
			PublicKey:  base64.StdEncoding.EncodeToString(pub),
		},
	}, nil
}
