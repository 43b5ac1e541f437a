// Package redisstub runs a minimal in-process Redis wire server for tests:
// string reads and writes for the identity key store plus the fixed-window
// counter commands the mint rate limiter issues inside MULTI/EXEC.
package redisstub

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password  string
	EnableTLS bool
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	strings  map[string]*stringEntry
	counters map[string]*counterEntry
	closed   chan struct{}
	tlsCert  tls.Certificate
	certPEM  []byte
	keyPEM   []byte
}

type stringEntry struct {
	value  string
	expiry time.Time
}

type counterEntry struct {
	value  int64
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	server := &Server{
		opts:     opts,
		strings:  make(map[string]*stringEntry),
		counters: make(map[string]*counterEntry),
		closed:   make(chan struct{}),
	}
	addr := "127.0.0.1:0"
	var ln net.Listener
	var err error
	if opts.EnableTLS {
		certPEM, keyPEM, cert, certErr := generateSelfSignedCert()
		if certErr != nil {
			return nil, certErr
		}
		server.tlsCert = cert
		server.certPEM = certPEM
		server.keyPEM = keyPEM
		tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	server.listener = ln
	server.addr = ln.Addr().String()
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) CertPEM() []byte {
	return s.certPEM
}

func (s *Server) KeyPEM() []byte {
	return s.keyPEM
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

// reply is one RESP response: a simpleString, errorString, int64, bulk
// string, nil bulk, or []reply array.
type reply struct {
	kind  byte // '+', '-', ':', '$', '*', '_' for nil bulk
	str   string
	num   int64
	items []reply
}

func simpleReply(value string) reply  { return reply{kind: '+', str: value} }
func errorReply(message string) reply { return reply{kind: '-', str: message} }
func intReply(value int64) reply      { return reply{kind: ':', num: value} }
func bulkReply(value string) reply    { return reply{kind: '$', str: value} }
func nilReply() reply                 { return reply{kind: '_'} }
func arrayReply(items []reply) reply  { return reply{kind: '*', items: items} }

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	var queued [][]string
	inMulti := false
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeReply(writer, errorReply("ERR wrong number of arguments")) != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])

		var response reply
		switch cmd {
		case "AUTH":
			response, authenticated = s.handleAuth(args)
		case "HELLO":
			// Answering with an error downgrades clients to the RESP2
			// handshake they use against older servers.
			response = errorReply("ERR unknown command 'hello'")
		case "CLIENT", "SELECT":
			response = simpleReply("OK")
		case "PING":
			response = simpleReply("PONG")
		case "MULTI":
			inMulti = true
			queued = queued[:0]
			response = simpleReply("OK")
		case "EXEC":
			if !authenticated {
				response = errorReply("NOAUTH Authentication required.")
				break
			}
			inMulti = false
			results := make([]reply, 0, len(queued))
			for _, queuedArgs := range queued {
				results = append(results, s.execute(queuedArgs))
			}
			queued = nil
			response = arrayReply(results)
		case "DISCARD":
			inMulti = false
			queued = nil
			response = simpleReply("OK")
		default:
			if !authenticated {
				response = errorReply("NOAUTH Authentication required.")
				break
			}
			if inMulti {
				queued = append(queued, args)
				response = simpleReply("QUEUED")
				break
			}
			response = s.execute(args)
		}

		if writeReply(writer, response) != nil {
			return
		}
	}
}

func (s *Server) handleAuth(args []string) (reply, bool) {
	password := ""
	switch len(args) {
	case 2:
		password = args[1]
	case 3:
		password = args[2]
	default:
		return errorReply("ERR wrong number of arguments for 'auth'"), s.opts.Password == ""
	}
	if s.opts.Password == "" || password == s.opts.Password {
		return simpleReply("OK"), true
	}
	return errorReply("WRONGPASS invalid username-password pair"), false
}

func (s *Server) execute(args []string) reply {
	switch strings.ToUpper(args[0]) {
	case "GET":
		if len(args) != 2 {
			return errorReply("ERR wrong number of arguments for 'get'")
		}
		value, ok := s.get(args[1])
		if !ok {
			return nilReply()
		}
		return bulkReply(value)
	case "SET":
		if len(args) < 3 {
			return errorReply("ERR wrong number of arguments for 'set'")
		}
		s.set(args[1], args[2])
		return simpleReply("OK")
	case "DEL":
		if len(args) < 2 {
			return errorReply("ERR wrong number of arguments for 'del'")
		}
		return intReply(s.del(args[1:]))
	case "INCR":
		if len(args) != 2 {
			return errorReply("ERR wrong number of arguments for 'incr'")
		}
		return intReply(s.incr(args[1]))
	case "EXPIRE":
		if len(args) < 3 {
			return errorReply("ERR wrong number of arguments for 'expire'")
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return errorReply("ERR value is not an integer or out of range")
		}
		onlyWhenFresh := len(args) > 3 && strings.EqualFold(args[3], "NX")
		return intReply(s.expire(args[1], time.Duration(seconds)*time.Second, onlyWhenFresh))
	case "TTL":
		if len(args) != 2 {
			return errorReply("ERR wrong number of arguments for 'ttl'")
		}
		return intReply(s.ttl(args[1]))
	default:
		return errorReply(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(args[0])))
	}
}

func (s *Server) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.strings[key]
	if !ok {
		return "", false
	}
	if !entry.expiry.IsZero() && time.Now().After(entry.expiry) {
		delete(s.strings, key)
		return "", false
	}
	return entry.value, true
}

func (s *Server) set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = &stringEntry{value: value}
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.strings[key]; ok {
			delete(s.strings, key)
			removed++
		}
		if _, ok := s.counters[key]; ok {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &counterEntry{}
		s.counters[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration, onlyWhenFresh bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil {
		if strEntry, ok := s.strings[key]; ok {
			if onlyWhenFresh && !strEntry.expiry.IsZero() {
				return 0
			}
			strEntry.expiry = time.Now().Add(ttl)
			return 1
		}
		return 0
	}
	if onlyWhenFresh && !entry.expiry.IsZero() {
		return 0
	}
	entry.expiry = time.Now().Add(ttl)
	return 1
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.counters, key)
		return -2
	}
	seconds := int64(remaining / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

func generateSelfSignedCert() ([]byte, []byte, tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"127.0.0.1", "localhost"},
	}
	tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	derBytes, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	return certPEM, keyPEM, cert, nil
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeReply(w *bufio.Writer, response reply) error {
	if err := writeReplyRaw(w, response); err != nil {
		return err
	}
	return w.Flush()
}

func writeReplyRaw(w *bufio.Writer, response reply) error {
	switch response.kind {
	case '+':
		_, err := fmt.Fprintf(w, "+%s\r\n", response.str)
		return err
	case '-':
		_, err := fmt.Fprintf(w, "-%s\r\n", response.str)
		return err
	case ':':
		_, err := fmt.Fprintf(w, ":%d\r\n", response.num)
		return err
	case '$':
		_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(response.str), response.str)
		return err
	case '_':
		_, err := w.WriteString("$-1\r\n")
		return err
	case '*':
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(response.items)); err != nil {
			return err
		}
		for _, item := range response.items {
			if err := writeReplyRaw(w, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported reply kind %q", response.kind)
	}
}
