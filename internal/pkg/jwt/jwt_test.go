package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeys(t *testing.T) Config {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))

	return Config{PrivPath: privPath, PubPath: pubPath, Issuer: "flowback", Audience: "flowback-ops", TTL: time.Hour}
}

func TestGenerateAndVerify(t *testing.T) {
	m, err := LoadAndBuild(writeKeys(t))
	require.NoError(t, err)

	tok, jti, err := m.Generator.GenerateAccessToken("42", "ops@example.com", "Ops", []string{"operator"})
	require.NoError(t, err)

	claims, err := m.Verifier.VerifyAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, jti, claims.ID)
	assert.Equal(t, "ops@example.com", claims.Actor())
	assert.True(t, claims.HasRole("operator"))
}

func TestVerify_WrongAudience(t *testing.T) {
	cfg := writeKeys(t)
	m, err := LoadAndBuild(cfg)
	require.NoError(t, err)
	tok, _, err := m.Generator.GenerateAccessToken("42", "", "", nil)
	require.NoError(t, err)

	other := NewVerifier(m.Verifier.pub, cfg.Issuer, "someone-else")
	_, err = other.VerifyAccessToken(tok)

	assert.Error(t, err)
}

func TestVerify_RejectsNonAccessPurpose(t *testing.T) {
	m, err := LoadAndBuild(writeKeys(t))
	require.NoError(t, err)
	tok, _, err := m.Generator.Generate("42", "", "", nil, "refresh")
	require.NoError(t, err)

	_, err = m.Verifier.VerifyAccessToken(tok)

	assert.Error(t, err)
}

func TestClaimsActorFallsBackToSubject(t *testing.T) {
	c := &Claims{}
	c.Subject = "7"
	assert.Equal(t, "7", c.Actor())
}

func TestLoadVerifier_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0o600))

	_, err := LoadVerifier(Config{PubPath: path})

	assert.Error(t, err)
}
