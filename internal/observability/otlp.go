package observability

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// OTLPExporterConfig is the collector connection for one push signal.
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
}

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

// Retry schedule shared by the OTLP exporters.
const (
	retryInitialInterval = time.Second
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 30 * time.Second
)

// otlpSettings is an OTLPExporterConfig with the protocol parsed and the
// TLS material loaded, ready to turn into exporter options for any signal.
type otlpSettings struct {
	protocol    otlpProtocol
	endpoint    string
	endpointURL bool
	tls         *tls.Config // nil means plaintext
	headers     map[string]string
	timeout     time.Duration
	gzip        bool
	retry       bool
}

func resolveOTLP(cfg OTLPExporterConfig) (otlpSettings, error) {
	protocol, err := parseOTLPProtocol(cfg.Protocol)
	if err != nil {
		return otlpSettings{}, err
	}
	tlsConfig, err := exporterTLS(cfg)
	if err != nil {
		return otlpSettings{}, err
	}
	return otlpSettings{
		protocol:    protocol,
		endpoint:    cfg.Endpoint,
		endpointURL: strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://"),
		tls:         tlsConfig,
		headers:     cfg.Headers,
		timeout:     cfg.Timeout,
		gzip:        strings.EqualFold(cfg.Compression, "gzip"),
		retry:       cfg.RetryEnabled,
	}, nil
}

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(otlpProtocolGRPC):
		return otlpProtocolGRPC, nil
	case "http", string(otlpProtocolHTTP):
		return otlpProtocolHTTP, nil
	default:
		return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
	}
}

// exporterTLS returns nil when the exporter should run without TLS.
func exporterTLS(cfg OTLPExporterConfig) (*tls.Config, error) {
	if cfg.Insecure {
		return nil, nil
	}
	return buildTLSConfig(cfg)
}

func buildTLSConfig(cfg OTLPExporterConfig) (*tls.Config, error) {
	out := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" {
		pem, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse OTLP TLS CA file")
		}
		out.RootCAs = pool
	}

	switch {
	case cfg.TLSClientCertFile == "" && cfg.TLSClientKeyFile == "":
	case cfg.TLSClientCertFile == "" || cfg.TLSClientKeyFile == "":
		return nil, errors.New("OTLP TLS client cert and key must both be set")
	default:
		cert, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load OTLP TLS client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}
