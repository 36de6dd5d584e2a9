// SPDX-License-Identifier: MIT

package internal

import (
	"crypto/tls"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// CertReloader serves the TLS keypair through tls.Config.GetCertificate and
// re-reads it whenever the files change on disk, so certificate rotation does
// not need a process restart.
type CertReloader struct {
	certPath string
	keyPath  string
	watcher  *fsnotify.Watcher
	mx       sync.RWMutex
	cert     *tls.Certificate
}

func NewCertReloader(certPath, keyPath string) (*CertReloader, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load initial keypair %v/%v", certPath, keyPath)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher for tls material")
	}
	r := &CertReloader{certPath: certPath, keyPath: keyPath, watcher: watcher, cert: &cert}
	for _, path := range []string{certPath, keyPath} {
		if wErr := watcher.Add(path); wErr != nil {
			_ = watcher.Close() //nolint:errcheck // Best effort, returning the cause.

			return nil, errors.Wrapf(wErr, "failed to watch %v", path)
		}
	}
	go r.watch()

	return r, nil
}

func (r *CertReloader) watch() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				r.reload()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("ERROR:%v", errors.Wrap(err, "tls material watcher failed"))
		}
	}
}

func (r *CertReloader) reload() {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		// Rotation writes cert and key separately; one of the two reloads wins.
		log.Printf("WARN: skipping tls reload: %v", err)

		return
	}
	r.mx.Lock()
	r.cert = &cert
	r.mx.Unlock()
	log.Printf("reloaded tls keypair from %v", r.certPath)
}

func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	return r.cert, nil
}

func (r *CertReloader) TLSConfig() *tls.Config {
	return &tls.Config{GetCertificate: r.GetCertificate, MinVersion: tls.VersionTLS12}
}

func (r *CertReloader) Close() error {
	if err := r.watcher.Close(); err != nil {
		return errors.Wrap(err, "failed to close tls material watcher")
	}

	return nil
}
