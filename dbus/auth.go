package dbus

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const defaultSystemBus = "unix:path=/var/run/dbus/system_bus_socket"

// SystemBusAddress returns $DBUS_SYSTEM_BUS_ADDRESS or the well-known socket.
func SystemBusAddress() string {
	if s := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS"); s != "" {
		return s
	}
	return defaultSystemBus
}

// dialUnix connects to the first reachable entry of a ';'-separated address list.
func dialUnix(ctx context.Context, addr string) (net.Conn, error) {
	var lastErr error
	for _, entry := range strings.Split(addr, ";") {
		if entry == "" {
			continue
		}
		path, err := parseUnixAddress(entry)
		if err != nil {
			lastErr = err
			continue
		}
		var d net.Dialer
		nc, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			lastErr = err
			continue
		}
		return nc, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dbus: empty address")
	}
	return nil, lastErr
}

func parseUnixAddress(entry string) (string, error) {
	const pref = "unix:"
	if !strings.HasPrefix(entry, pref) {
		return "", fmt.Errorf("dbus: unsupported address %q", entry)
	}
	for _, kv := range strings.Split(entry[len(pref):], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		v, err := url.PathUnescape(v)
		if err != nil {
			return "", fmt.Errorf("dbus: bad address value %q: %w", kv, err)
		}
		switch k {
		case "path":
			return v, nil
		case "abstract":
			return "@" + v, nil
		}
	}
	return "", fmt.Errorf("dbus: no path in address %q", entry)
}

// auth runs SASL EXTERNAL. rd must wrap conn; it is reused for message
// reads afterwards so nothing the server sends is lost.
func auth(conn net.Conn, rd *bufio.Reader, uid int) error {
	hexUID := hex.EncodeToString([]byte(strconv.Itoa(uid)))
	if _, err := conn.Write([]byte{0}); err != nil {
		return err
	}
	if err := sendLine(conn, "AUTH EXTERNAL "+hexUID); err != nil {
		return err
	}
	line, err := rd.ReadString('\n')
	if err != nil {
		return err
	}
	line = trimCRLF(line)
	if line != "OK" && !strings.HasPrefix(line, "OK ") {
		return fmt.Errorf("dbus: auth failed: %s", line)
	}
	return sendLine(conn, "BEGIN")
}

func trimCRLF(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func sendLine(conn net.Conn, s string) error {
	_, err := conn.Write(append([]byte(s), '\r', '\n'))
	return err
}
