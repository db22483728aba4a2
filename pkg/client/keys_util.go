package client

import (
	"crypto/ecdsa"
	"crypto/rsa"

	jose "github.com/go-jose/go-jose/v4"
)

func keyIsRSA(key jose.JSONWebKey) bool {
	_, ok := key.Key.(*rsa.PrivateKey)
	return ok
}

func keyIsEC(key jose.JSONWebKey) bool {
	_, ok := key.Key.(*ecdsa.PrivateKey)
	return ok
}
