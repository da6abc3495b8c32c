package wsse

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func selfSignedPEMPair(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func TestSigner_BuildSignedEnvelope_ContainsRequiredElements(t *testing.T) {
	certPEM, keyPEM := selfSignedPEMPair(t)
	signer, err := NewSigner(certPEM, keyPEM)
	require.NoError(t, err)

	envelope, err := signer.BuildSignedEnvelope(MatriculaRequest{
		CodigoLector: "LEC01",
		Matricula:    "1234 abc extra",
		Data:         time.Date(2026, 7, 29, 14, 5, 2, 0, time.UTC),
		ImgMatricula: []byte("ocrbytes"),
	})
	require.NoError(t, err)

	require.Contains(t, envelope, "wsse:BinarySecurityToken")
	require.Contains(t, envelope, "wsu:Timestamp")
	require.Contains(t, envelope, "ds:Signature")
	require.Contains(t, envelope, "rsa-sha1")
	require.Contains(t, envelope, "xml-exc-c14n")
	require.Contains(t, envelope, `mat:matriculaRequest xmlns:mat="http://dgp.gencat.cat/matricules"`)
	require.Contains(t, envelope, "<mat:dataLectura>2026-07-29</mat:dataLectura>")
	require.Contains(t, envelope, "<mat:horaLectura>14:05:02</mat:horaLectura>")
	require.Contains(t, envelope, "<mat:matricula>1234ABCEXT</mat:matricula>", "matricula must be upper-cased, space-stripped, and truncated to 10 chars")
	require.Contains(t, envelope, "<mat:imgContext></mat:imgContext>", "imgContext must always be present, empty when no context image given")
	require.NotContains(t, envelope, "coordenadaX", "coordenadaX must be omitted when no coordinate is resolvable")
}

func TestSigner_BuildSignedEnvelope_IncludesContextImageWhenPresent(t *testing.T) {
	certPEM, keyPEM := selfSignedPEMPair(t)
	signer, err := NewSigner(certPEM, keyPEM)
	require.NoError(t, err)

	envelope, err := signer.BuildSignedEnvelope(MatriculaRequest{
		CodigoLector: "LEC01",
		Matricula:    "1234ABC",
		Data:         time.Now(),
		ImgMatricula: []byte("ocrbytes"),
		ImgContext:   []byte("ctxbytes"),
	})
	require.NoError(t, err)
	require.Contains(t, envelope, "<mat:imgContext>Y3R4Ynl0ZXM=</mat:imgContext>")
}

func TestSigner_BuildSignedEnvelope_IncludesCoordinatesWhenResolved(t *testing.T) {
	certPEM, keyPEM := selfSignedPEMPair(t)
	signer, err := NewSigner(certPEM, keyPEM)
	require.NoError(t, err)

	envelope, err := signer.BuildSignedEnvelope(MatriculaRequest{
		CodigoLector: "LEC01",
		Matricula:    "1234ABC",
		Data:         time.Now(),
		ImgMatricula: []byte("ocrbytes"),
		CoordenadaX:  "431900.12",
		CoordenadaY:  "4582310.55",
	})
	require.NoError(t, err)
	require.Contains(t, envelope, "<mat:coordenadaX>431900.12</mat:coordenadaX>")
	require.Contains(t, envelope, "<mat:coordenadaY>4582310.55</mat:coordenadaY>")
}
