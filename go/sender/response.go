package sender

import (
	"encoding/xml"
)

// soapEnvelope decodes just enough of a SOAP 1.1 response to classify it:
// the presence of a Fault directly under Body, and the matriculaResponse
// fields, regardless of which namespace prefix the downstream used.
type soapEnvelope struct {
	Body soapBody `xml:"Body"`
}

type soapBody struct {
	Fault             *struct{} `xml:"Fault"`
	MatriculaResponse *struct {
		CodiRetorn       string `xml:"codiRetorn"`
		CodiError        string `xml:"codiError"`
		Error            string `xml:"error"`
		Resultat         string `xml:"resultat"`
		DescripcioRetorn string `xml:"descripcioRetorn"`
		Descripcio       string `xml:"descripcio"`
	} `xml:"matriculaResponse"`
}

// successCodes are the codiRetorn values spec.md §4.8 treats as success.
var successCodes = map[string]bool{"1": true, "0000": true, "OK": true, "1.0": true}

// classifyResponse implements spec.md §4.8's Response Classification
// table. body is the raw HTTP response body; transportErr is any error
// from performing the request itself (non-nil implies a transient
// outcome without needing to parse body).
func classifyResponse(body []byte, transportErr error) Outcome {
	if transportErr != nil {
		return TransientError(transportErr.Error())
	}

	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return TransientError("unparsable SOAP response: " + err.Error())
	}

	if env.Body.Fault != nil {
		return PermanentError("SOAP_FAULT")
	}

	mr := env.Body.MatriculaResponse
	if mr == nil {
		return PermanentError("NO_MATRICULA_RESPONSE")
	}

	if mr.CodiError != "" || mr.Error != "" {
		return PermanentError(firstNonEmpty(mr.CodiError, mr.Error))
	}
	if mr.Resultat != "" && !successCodes[mr.Resultat] {
		return PermanentError("RESULTAT_" + mr.Resultat)
	}
	if successCodes[mr.CodiRetorn] {
		return Success(mr.CodiRetorn)
	}
	return PermanentError("CODI_RETORN_" + mr.CodiRetorn)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
