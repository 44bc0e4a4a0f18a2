package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cretz/bine/tor"
	"github.com/cretz/bine/torutil"
	tued25519 "github.com/cretz/bine/torutil/ed25519"
)

// getOrCreatePK loads the onion service key from the given pem file,
// generating and saving a fresh one on first use.
func getOrCreatePK(path string) (ed25519.PrivateKey, error) {
	d, err := ioutil.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if len(d) == 0 {
		_, privateKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		x509Encoded, err := x509.MarshalPKCS8PrivateKey(privateKey)
		if err != nil {
			return nil, err
		}
		pemEncoded := pem.EncodeToMemory(&pem.Block{Type: "ED25519 PRIVATE KEY", Bytes: x509Encoded})
		return privateKey, ioutil.WriteFile(path, pemEncoded, 0600)
	}

	block, _ := pem.Decode(d)
	if block == nil {
		return nil, fmt.Errorf("invalid pem in %s", path)
	}
	tPk, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pk, ok := tPk.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("invalid key type %T wanted ed25519.PrivateKey", tPk)
	}
	return pk, nil
}

type torServer struct {
	Handler http.Handler

	// PrivateKey is the pem encoded ed25519 private key of the onion service.
	PrivateKey ed25519.PrivateKey
}

func onionAddr(pk ed25519.PrivateKey) string {
	return torutil.OnionServiceIDFromV3PublicKey(tued25519.PublicKey([]byte(pk.Public().(ed25519.PublicKey))))
}

// Serve publishes the given listener as a v3 onion service and serves the
// relay over it. Requires a tor binary on the host.
func (ts *torServer) Serve(ln net.Listener) error {
	d, err := ioutil.TempDir("", "")
	if err != nil {
		return err
	}

	t, err := tor.Start(nil, &tor.StartConf{TempDataDirBase: d, NoHush: true})
	if err != nil {
		return fmt.Errorf("unable to start tor: %v", err)
	}
	defer t.Close()

	// Wait at most a few minutes to publish the service.
	listenCtx, listenCancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer listenCancel()

	// Create a v3 onion service to listen on any port but show as 80.
	onion, err := t.Listen(listenCtx, &tor.ListenConf{LocalListener: ln, Key: ts.PrivateKey, Version3: true, RemotePorts: []int{80}})
	if err != nil {
		return fmt.Errorf("unable to create onion service: %v", err)
	}
	defer onion.Close()

	return http.Serve(onion, ts.Handler)
}
