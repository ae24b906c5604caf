package utils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TLSSettings：TLS_ENABLE / TLS_CERT_PATH / TLS_KEY_PATH / TLS_REDIRECT_* 汇总
type TLSSettings struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	Redirect     bool
	RedirectAddr string
}

// TLSFromEnv：默认关闭；证书默认位于 data/certs
func TLSFromEnv() TLSSettings {
	return TLSSettings{
		Enabled:      EnvBool("TLS_ENABLE", false),
		CertPath:     Getenv("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		KeyPath:      Getenv("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
		Redirect:     EnvBool("TLS_REDIRECT_ENABLE", false),
		RedirectAddr: Getenv("TLS_REDIRECT_ADDR", ":80"),
	}
}

// EnsureSelfSignedCert：证书与私钥均存在时直接返回，否则生成一年期自签证书
// 约束：仅用于内网与开发环境；生产应通过 TLS_CERT_PATH/TLS_KEY_PATH 指向正式证书
func EnsureSelfSignedCert(certPath, keyPath, cn string) error {
	if _, err := os.Stat(certPath); err == nil {
		if _, err := os.Stat(keyPath); err == nil {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
		return err
	}
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost", cn},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return err
	}
	if err := writePEM(certPath, 0o644, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return err
	}
	return writePEM(keyPath, 0o600, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
}

func writePEM(path string, mode os.FileMode, b *pem.Block) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RedirectHandler：HTTP → HTTPS 301 跳转，目标端口替换为 HTTPS 服务端口
func RedirectHandler(httpsAddr string) http.Handler {
	port := strings.TrimPrefix(httpsAddr, ":")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if port != "" && port != "443" {
			host = net.JoinHostPort(host, port)
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}
