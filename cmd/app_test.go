package cmd

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// run executes the application with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(context.Background(), append([]string{"cardsec"}, args...))
	return out.String(), err
}

func TestApp(t *testing.T) {
	app := App()

	require.NotNil(t, app)
	require.Equal(t, "cardsec", app.Name)
	require.NotEmpty(t, app.Usage)
	require.Len(t, app.Commands, 6)

	names := map[string]bool{}
	for _, flag := range app.Flags {
		names[flag.Names()[0]] = true
	}
	for _, name := range []string{"policy-dir", "reader", "slot", "principal", "verbose"} {
		require.True(t, names[name], "missing flag %s", name)
	}
}

func TestRequiredFlags(t *testing.T) {
	tests := []struct {
		cmd  *cli.Command
		flag string
	}{
		{ACLCommand().Commands[1], "aid"},
		{JCRMICommand(), "aid"},
		{JCRMICommand().Commands[0], "method"},
		{APDUCommand(), "aid"},
		{CACommand().Commands[0], "ca-cert"},
		{CACommand().Commands[0], "csr"},
	}
	for _, tc := range tests {
		found := false
		for _, flag := range tc.cmd.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == tc.flag {
				found = true
				require.True(t, f.Required, "%s --%s", tc.cmd.Name, tc.flag)
			}
		}
		require.True(t, found, "%s has no --%s", tc.cmd.Name, tc.flag)
	}
}

func TestResolveSlot(t *testing.T) {
	readers := []string{"Alcor Micro AU9540 00 00", "Yubico YubiKey OTP+FIDO+CCID 01 00"}

	slot, err := resolveSlot(readers, "", 1)
	require.NoError(t, err)
	require.Equal(t, 1, slot)

	slot, err = resolveSlot(readers, "yubikey", 0)
	require.NoError(t, err)
	require.Equal(t, 1, slot)

	_, err = resolveSlot(readers, "", 2)
	require.Error(t, err)
	_, err = resolveSlot(readers, "gemalto", 0)
	require.Error(t, err)
}

const testPolicy = `
acf a0 00 00 00 03 {
  ace {
    apdu { 00 B0 00 00 FF FF 00 00 }
  }
}
acf a0 00 00 00 62 03 01 0c 06 01 {
  ace {
    jcrmi { classes { com.example.Purse } methods { debit(S)V } }
  }
}
`

func writePolicy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acl_0"), []byte(testPolicy), 0o644))
	return dir
}

func TestACLShow(t *testing.T) {
	dir := writePolicy(t)

	out, err := run(t, "--policy-dir", dir, "acl", "show")
	require.NoError(t, err)
	require.Contains(t, out, "acf a0 00 00 00 03 {")
	require.Contains(t, out, "apdu { 00 B0 00 00 FF FF 00 00 }")

	_, err = run(t, "--policy-dir", dir, "--slot", "1", "acl", "show")
	require.Error(t, err)
}

func TestACLCheck(t *testing.T) {
	dir := writePolicy(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "apdu allowed",
			args: []string{"--aid", "A000000003", "--command", "00B00000"},
			want: []string{"apdu A000000003: CHECK", "command 00B00000: allowed"},
		},
		{
			name: "apdu refused",
			args: []string{"--aid", "A0 00 00 00 03 10 10", "--command", "00D60000"},
			want: []string{"apdu A0000000031010: CHECK", "command 00D60000: denied"},
		},
		{
			name: "unknown application",
			args: []string{"--aid", "A000000004"},
			want: []string{"apdu A000000004: DENY"},
		},
		{
			name: "jcrmi method",
			args: []string{"--jcrmi", "--aid", "A00000006203010C0601", "--class", "com.example.Purse", "--method", "debit(S)V"},
			want: []string{"jcrmi A00000006203010C0601: CHECK", "method com.example.Purse.debit(S)V: allowed"},
		},
		{
			name: "jcrmi method refused",
			args: []string{"--jcrmi", "--aid", "A00000006203010C0601", "--class", "com.example.Purse", "--method", "credit(S)V"},
			want: []string{"method com.example.Purse.credit(S)V: denied"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := run(t, append([]string{"--policy-dir", dir, "acl", "check"}, tc.args...)...)
			require.NoError(t, err)
			for _, w := range tc.want {
				require.Contains(t, out, w)
			}
		})
	}

	t.Run("bad header", func(t *testing.T) {
		_, err := run(t, "--policy-dir", dir, "acl", "check", "--aid", "A000000003", "--command", "00B0")
		require.Error(t, err)
	})

	t.Run("missing policy denies", func(t *testing.T) {
		out, err := run(t, "--policy-dir", t.TempDir(), "acl", "check", "--aid", "A000000003")
		require.NoError(t, err)
		require.Contains(t, out, "DENY")
	})
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600))
}

func TestIssueAndShow(t *testing.T) {
	dir := t.TempDir()
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Example"}, CommonName: "Issuing CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(caKey)
	require.NoError(t, err)

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{Organization: []string{"Example"}, CommonName: "host app"},
	}, clientKey)
	require.NoError(t, err)

	caCert := filepath.Join(dir, "ca.pem")
	caKeyFile := filepath.Join(dir, "ca.key")
	csrFile := filepath.Join(dir, "client.csr")
	writePEM(t, caCert, "CERTIFICATE", caDER)
	writePEM(t, caKeyFile, "PRIVATE KEY", keyDER)
	require.NoError(t, os.WriteFile(csrFile, csr, 0o600))

	issued := filepath.Join(dir, "client.der")
	out, err := run(t, "ca", "issue", "--ca-cert", caCert, "--ca-key", caKeyFile, "--csr", csrFile, "--out", issued)
	require.NoError(t, err)
	require.Contains(t, out, "issued "+issued)

	out, err = run(t, "cert", "show", issued)
	require.NoError(t, err)
	require.Contains(t, out, "CN=host app")
	require.Contains(t, out, "CN=Issuing CA")

	bundle := filepath.Join(dir, "client.p7")
	_, err = run(t, "ca", "issue", "--bundle", "--ca-cert", caCert, "--ca-key", caKeyFile, "--csr", csrFile, "--out", bundle)
	require.NoError(t, err)

	path := filepath.Join(dir, "client.pkipath")
	out, err = run(t, "cert", "show", "--chain", "--pkipath", path, bundle)
	require.NoError(t, err)
	require.Contains(t, out, "chain of 2 certificate(s) is valid")

	out, err = run(t, "cert", "show", "--chain", path)
	require.NoError(t, err)
	require.Contains(t, out, "chain of 2 certificate(s) is valid")

	_, err = run(t, "cert", "show", "--chain", "--at", time.Now().Add(48*time.Hour).Format(time.RFC3339), bundle)
	require.Error(t, err)

	t.Run("wrong key", func(t *testing.T) {
		otherDER, err := x509.MarshalPKCS8PrivateKey(clientKey)
		require.NoError(t, err)
		other := filepath.Join(dir, "other.key")
		writePEM(t, other, "PRIVATE KEY", otherDER)
		_, err = run(t, "ca", "issue", "--ca-cert", caCert, "--ca-key", other, "--csr", csrFile, "--out", filepath.Join(dir, "x.der"))
		require.Error(t, err)
	})
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		arg  string
		want interface{}
	}{
		{"null", nil},
		{"B:-1", int8(-1)},
		{"Z:true", true},
		{"S:300", int16(300)},
		{"I:0x11170", int32(70000)},
		{"[B:CAFE", []byte{0xCA, 0xFE}},
		{"[B:", []byte{}},
		{"[Z:true,false", []bool{true, false}},
		{"[S:1,-2", []int16{1, -2}},
		{"[I:", []int32{}},
	}
	for _, tc := range tests {
		got, err := parseArg(tc.arg)
		require.NoError(t, err, tc.arg)
		require.Equal(t, tc.want, got, tc.arg)
	}

	for _, bad := range []string{"42", "B:200", "S:x", "[B:CAF", "J:1", "[I:1,,2"} {
		_, err := parseArg(bad)
		require.Error(t, err, bad)
	}
}

func TestFormatValue(t *testing.T) {
	require.Equal(t, "null", formatValue(nil))
	require.Equal(t, "CAFE", formatValue([]byte{0xCA, 0xFE}))
	require.Equal(t, "-3", formatValue(int16(-3)))
	require.Equal(t, "[1 2]", formatValue([]int32{1, 2}))
}
