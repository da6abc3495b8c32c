// Package sender implements C8, the outbound delivery worker: it claims
// due MessageQueue rows in FIFO batches, builds and signs a SOAP
// matriculaRequest via go/wsse, posts it over mTLS, classifies the
// response and transitions the row accordingly. Grounded on the teacher's
// webhook delivery driver (go/materialize/driver/webhook) for the
// claim-batch/retry-with-backoff shape, generalized to spec.md §4.8's
// routing and certificate resolution.
package sender

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Lasarikoo/TattileSender/go/config"
	"github.com/Lasarikoo/TattileSender/go/metrics"
	"github.com/Lasarikoo/TattileSender/go/store"
	"github.com/Lasarikoo/TattileSender/go/wsse"
)

// Sender claims and delivers queued readings.
type Sender struct {
	cfg     config.Sender
	store   *store.ReadingStore
	images  *store.ImageStore
	log     *log.Entry
	metrics *metrics.Registry
}

// New builds a Sender.
func New(cfg config.Sender, rs *store.ReadingStore, images *store.ImageStore, logger *log.Entry, reg *metrics.Registry) *Sender {
	return &Sender{cfg: cfg, store: rs, images: images, log: logger, metrics: reg}
}

// Run executes the claim-batch loop until ctx is cancelled (spec.md §4.8).
func (s *Sender) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		rows, err := s.store.ClaimPending(ctx, s.cfg.MaxBatchSize)
		if err != nil {
			s.log.WithError(err).Error("failed claiming pending batch")
			if !sleepCtx(ctx, s.cfg.PollInterval) {
				return nil
			}
			continue
		}

		if len(rows) == 0 {
			if !sleepCtx(ctx, s.cfg.PollInterval) {
				return nil
			}
			continue
		}

		for _, row := range rows {
			if ctx.Err() != nil {
				return nil
			}
			s.processRow(ctx, row)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// processRow implements the per-row algorithm of spec.md §4.8, steps
// 1-12.
func (s *Sender) processRow(ctx context.Context, row store.QueueRow) {
	route, err := s.store.LoadReadingAndRoute(ctx, row.QueueID)
	if err != nil {
		s.deadImmediate(ctx, row, 0, 0, "LECTURA_O_CAMARA_NO_ENCONTRADA")
		return
	}

	cert, err := s.resolveCertificate(ctx, route.Camera, route.Municipality)
	if err != nil {
		s.deadImmediate(ctx, row, route.Reading.ID, route.Camera.ID, err.Error())
		return
	}

	endpoint, err := s.resolveEndpoint(ctx, route.Camera, route.Municipality)
	if err != nil {
		s.deadImmediate(ctx, row, route.Reading.ID, route.Camera.ID, err.Error())
		return
	}

	retryMax := endpoint.RetryMax
	backoffMS := endpoint.RetryBackoffMS
	timeoutMS := endpoint.TimeoutMS
	if retryMax <= 0 {
		retryMax = s.cfg.DefaultRetryMax
	}
	if backoffMS <= 0 {
		backoffMS = s.cfg.DefaultBackoffMS
	}
	if timeoutMS <= 0 {
		timeoutMS = s.cfg.DefaultTimeoutMS
	}

	if row.Attempts >= retryMax {
		s.deadImmediate(ctx, row, route.Reading.ID, route.Camera.ID, "MAX_REINTENTOS_AGOTADOS")
		return
	}

	ocrData, ctxData, err := s.loadImages(route.Reading)
	if err != nil {
		s.deadImmediate(ctx, row, route.Reading.ID, route.Camera.ID, err.Error())
		return
	}

	if err := s.store.MarkSending(ctx, row.QueueID); err != nil {
		s.log.WithError(err).WithField("queue_id", row.QueueID).Warn("failed claiming row for sending, skipping")
		return
	}

	outcome := s.deliver(ctx, route, cert, endpoint, timeoutMS, ocrData, ctxData)
	s.recordOutcome(outcome)

	switch {
	case outcome.IsSuccess():
		if err := s.store.MarkSuccessAndPurge(ctx, row.QueueID, route.Reading.ID, route.Camera.ID,
			route.Reading.ImageOCRPath, route.Reading.ImageCTXPath); err != nil {
			s.log.WithError(err).WithField("queue_id", row.QueueID).Error("failed mark_success_and_purge")
		}
	case outcome.IsTransient() && row.Attempts+1 < retryMax:
		next := time.Now().UTC().Add(time.Duration(backoffMS) * time.Millisecond)
		if err := s.store.MarkFailed(ctx, row.QueueID, outcome.Reason(), next); err != nil {
			s.log.WithError(err).WithField("queue_id", row.QueueID).Error("failed mark_failed")
		}
	default:
		reason := outcome.Reason()
		if reason == "" {
			reason = "DELIVERY_FAILED"
		}
		if err := s.store.MarkDead(ctx, row.QueueID, reason); err != nil {
			s.log.WithError(err).WithField("queue_id", row.QueueID).Error("failed mark_dead")
		}
	}
}

func (s *Sender) deadImmediate(ctx context.Context, row store.QueueRow, readingID, cameraID int64, reason string) {
	s.recordOutcome(PermanentError(reason))
	if err := s.store.MarkDead(ctx, row.QueueID, reason); err != nil {
		s.log.WithError(err).WithField("queue_id", row.QueueID).Error("failed mark_dead on pre-send rejection")
	}
}

func (s *Sender) recordOutcome(o Outcome) {
	if s.metrics == nil {
		return
	}
	switch {
	case o.IsSuccess():
		s.metrics.SenderOutcomes.WithLabelValues("success").Inc()
	case o.IsTransient():
		s.metrics.SenderOutcomes.WithLabelValues("transient").Inc()
	default:
		s.metrics.SenderOutcomes.WithLabelValues("permanent").Inc()
	}
}

// resolveCertificate implements camera-overrides-municipality resolution
// (spec.md §4.8 step 2).
func (s *Sender) resolveCertificate(ctx context.Context, cam store.Camera, mun store.Municipality) (*store.Certificate, error) {
	certID := mun.CertificateRef
	if cam.CertificateRef != nil {
		certID = cam.CertificateRef
	}
	if certID == nil {
		return nil, fmt.Errorf("CERTIFICADO_NO_CONFIGURADO")
	}
	cert, err := s.store.GetCertificate(ctx, *certID)
	if err != nil {
		return nil, fmt.Errorf("CERTIFICADO_NO_ENCONTRADO")
	}
	if cert.ClientCertPath == "" || cert.KeyPath == "" {
		return nil, fmt.Errorf("CERTIFICADO_INCOMPLETO")
	}
	return cert, nil
}

// resolveEndpoint implements camera-overrides-municipality resolution
// (spec.md §4.8 step 3).
func (s *Sender) resolveEndpoint(ctx context.Context, cam store.Camera, mun store.Municipality) (*store.Endpoint, error) {
	epID := mun.EndpointRef
	if cam.EndpointRef != nil {
		epID = cam.EndpointRef
	}
	if epID == nil {
		return nil, fmt.Errorf("ENDPOINT_URL_NO_CONFIGURADA")
	}
	ep, err := s.store.GetEndpoint(ctx, *epID)
	if err != nil || ep.URL == "" {
		return nil, fmt.Errorf("ENDPOINT_URL_NO_CONFIGURADA")
	}
	return ep, nil
}

// loadImages implements spec.md §4.8 step 6: OCR is required and must
// exist; CTX is optional but must exist if has_image_ctx is set.
func (s *Sender) loadImages(r store.AlprReading) (ocr, ctxImg []byte, err error) {
	if !r.HasImageOCR || r.ImageOCRPath == nil {
		return nil, nil, fmt.Errorf("NO_IMAGE_OCR")
	}
	ocr, err = s.images.ReadBytes(*r.ImageOCRPath)
	if err != nil {
		return nil, nil, fmt.Errorf("NO_IMAGE_OCR")
	}

	if r.HasImageCTX && r.ImageCTXPath != nil {
		ctxImg, err = s.images.ReadBytes(*r.ImageCTXPath)
		if err != nil {
			return nil, nil, fmt.Errorf("NO_IMAGE_CTX")
		}
	}
	return ocr, ctxImg, nil
}

// resolveCoord implements the camera.coord_x-or-formatted-UTM fallback
// (spec.md §6, mossos_client.py: coord_x or f"{utm_x:.2f}").
func resolveCoord(coord *string, utm *float64) string {
	if coord != nil && *coord != "" {
		return *coord
	}
	if utm != nil {
		return fmt.Sprintf("%.2f", *utm)
	}
	return ""
}

// deliver implements spec.md §4.8 steps 8-11: build, sign, POST, classify.
func (s *Sender) deliver(ctx context.Context, route *store.ReadingAndRoute, cert *store.Certificate, endpoint *store.Endpoint, timeoutMS int, ocrData, ctxData []byte) Outcome {
	certPEM, err := os.ReadFile(cert.ClientCertPath)
	if err != nil {
		return PermanentError("CERTIFICADO_ILEGIBLE")
	}
	keyPEM, err := os.ReadFile(cert.KeyPath)
	if err != nil {
		return PermanentError("CERTIFICADO_ILEGIBLE")
	}

	signer, err := wsse.NewSigner(certPEM, keyPEM)
	if err != nil {
		return PermanentError("CERTIFICADO_INVALIDO")
	}

	envelope, err := signer.BuildSignedEnvelope(wsse.MatriculaRequest{
		CodigoLector: route.Camera.CodigoLector,
		Matricula:    route.Reading.Plate,
		Data:         route.Reading.TimestampUTC,
		ImgMatricula: ocrData,
		ImgContext:   ctxData,
		CoordenadaX:  resolveCoord(route.Camera.CoordX, route.Camera.UTMX),
		CoordenadaY:  resolveCoord(route.Camera.CoordY, route.Camera.UTMY),
	})
	if err != nil {
		return PermanentError("FIRMA_FALLIDA")
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return PermanentError("CERTIFICADO_TLS_INVALIDO")
	}

	client := &http.Client{
		Timeout: time.Duration(timeoutMS) * time.Millisecond,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{tlsCert},
				MinVersion:   tls.VersionTLS12,
			},
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint.URL, strings.NewReader(envelope))
	if err != nil {
		return TransientError(err.Error())
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "matricula")

	resp, err := client.Do(req)
	if err != nil {
		return classifyResponse(nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TransientError(err.Error())
	}

	return classifyResponse(body, nil)
}
