// Package gosoap builds the SOAP 1.2 envelopes sent to ONVIF devices and
// decodes the faults they send back.
// inspired by https://github.com/use-go/onvif
package gosoap

import (
	//nolint: gosec
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/beevik/etree"
	"github.com/elgs/gostrgen"
)

const (
	envelopeNamespace = "http://www.w3.org/2003/05/soap-envelope"
	encodingNamespace = "http://www.w3.org/2003/05/soap-encoding"
)

// Message is a SOAP envelope under construction. The zero value is not usable; use NewEnvelope.
type Message struct {
	doc    *etree.Document
	header *etree.Element
	body   *etree.Element
}

// NewEnvelope returns an empty envelope with the given extra namespace prefixes declared on its root.
func NewEnvelope(namespaces map[string]string) *Message {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soap-env:Envelope")
	env.CreateAttr("xmlns:soap-env", envelopeNamespace)
	env.CreateAttr("xmlns:soap-enc", encodingNamespace)

	// sorted so that identical requests produce identical bytes
	keys := make([]string, 0, len(namespaces))
	for k := range namespaces {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env.CreateAttr("xmlns:"+k, namespaces[k])
	}

	return &Message{
		doc:    doc,
		header: env.CreateElement("soap-env:Header"),
		body:   env.CreateElement("soap-env:Body"),
	}
}

// AddBodyContent appends an element to the envelope body.
func (msg *Message) AddBodyContent(element *etree.Element) {
	msg.body.AddChild(element)
}

// AddBodyXML parses a marshaled request and appends its root to the envelope body.
func (msg *Message) AddBodyXML(data []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("failed to parse request body: %w", err)
	}
	if doc.Root() == nil {
		return fmt.Errorf("request body has no root element")
	}
	msg.AddBodyContent(doc.Root())
	return nil
}

// AddWSSecurity adds a UsernameToken header using the password digest scheme.
func (msg *Message) AddWSSecurity(username, password string, now time.Time) error {
	auth := newSecurity(username, password, now)
	data, err := xml.MarshalIndent(auth, "", "  ")
	if err != nil {
		return err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return err
	}
	msg.header.AddChild(doc.Root())
	return nil
}

// Bytes serializes the envelope.
func (msg *Message) Bytes() ([]byte, error) {
	return msg.doc.WriteToBytes()
}

func (msg *Message) String() string {
	s, err := msg.doc.WriteToString()
	if err != nil {
		return ""
	}
	return s
}

const (
	//nolint: gosec
	passwordType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	// nolint: gosec
	encodingType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

// Security is the WS-Security header element.
type Security struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd Security"`
	Auth    wsAuth
}

type password struct {
	Type     string `xml:"Type,attr"`
	Password string `xml:",chardata"`
}

type nonce struct {
	Type  string `xml:"EncodingType,attr"`
	Nonce string `xml:",chardata"`
}

type wsAuth struct {
	XMLName  xml.Name `xml:"UsernameToken"`
	Username string   `xml:"Username"`
	Password password `xml:"Password"`
	Nonce    nonce    `xml:"Nonce"`
	Created  string   `xml:"http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd Created"`
}

func newSecurity(username, passwd string, now time.Time) Security {
	nonceSeq, _ := gostrgen.RandGen(32, gostrgen.Lower|gostrgen.Digit, "", "")
	created := now.UTC().Format(time.RFC3339Nano)
	return Security{
		Auth: wsAuth{
			Username: username,
			Password: password{
				Type:     passwordType,
				Password: Digest(nonceSeq, created, passwd),
			},
			Nonce: nonce{
				Type:  encodingType,
				Nonce: nonceSeq,
			},
			Created: created,
		},
	}
}

// Digest = B64ENCODE( SHA1( B64DECODE( Nonce ) + Date + Password ) ).
func Digest(nonce, created, password string) string {
	sDec, _ := base64.StdEncoding.DecodeString(nonce)

	//nolint: gosec
	hasher := sha1.New()
	hasher.Write([]byte(string(sDec) + created + password))

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil))
}
