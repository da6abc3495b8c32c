package sender

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyResponse_TransportErrorIsTransient(t *testing.T) {
	o := classifyResponse(nil, errors.New("connection reset"))
	require.True(t, o.IsTransient())
}

func TestClassifyResponse_SoapFaultIsPermanent(t *testing.T) {
	body := []byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><soap:Fault><faultstring>bad</faultstring></soap:Fault></soap:Body></soap:Envelope>`)
	o := classifyResponse(body, nil)
	require.True(t, o.IsPermanent())
}

func TestClassifyResponse_SuccessCodiRetorn(t *testing.T) {
	for _, code := range []string{"1", "0000", "OK", "1.0"} {
		body := []byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><matriculaResponse><codiRetorn>` + code + `</codiRetorn></matriculaResponse></soap:Body></soap:Envelope>`)
		o := classifyResponse(body, nil)
		require.True(t, o.IsSuccess(), "expected success for codiRetorn=%s", code)
	}
}

func TestClassifyResponse_UnknownCodiRetornIsPermanent(t *testing.T) {
	body := []byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><matriculaResponse><codiRetorn>9999</codiRetorn></matriculaResponse></soap:Body></soap:Envelope>`)
	o := classifyResponse(body, nil)
	require.True(t, o.IsPermanent())
}

func TestClassifyResponse_MissingMatriculaResponseIsPermanent(t *testing.T) {
	body := []byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body></soap:Body></soap:Envelope>`)
	o := classifyResponse(body, nil)
	require.True(t, o.IsPermanent())
}

func TestClassifyResponse_UnparsableBodyIsTransient(t *testing.T) {
	o := classifyResponse([]byte("not xml"), nil)
	require.True(t, o.IsTransient())
}
