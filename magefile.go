//go:build mage
// +build mage

package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/magefile/mage/mg" // mg contains helpful utility functions, like Deps
	"github.com/magefile/mage/sh"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

type Pi mg.Namespace

var (
	buildDir  = "bin/pi"
	binName   = "iot-emitter"
	remoteDir = "iot-emitter"
)

// Runs the unit tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Runs the emitter locally. EMITTER_* variables are passed through.
func Run() error {
	return sh.RunV("go", "run", "./cmd/server.go")
}

// Runs five simulated cycles starting at the given unix second and prints the reports.
func Simulate(at string) error {
	return sh.RunV("go", "run", "./cmd/cli", "-at", at, "-cycles", "5", "-seed", "1")
}

// Starts the emitter on the Raspberry Pi over SSH. Blocks until it exits.
// EMITTER_* variables from the local environment are forwarded.
func (Pi) Start(host string, username string) error {
	mg.Deps(mg.F(Pi.Deploy, host, username))
	client, err := sshClient(username, host)
	if err != nil {
		return fmt.Errorf("failed to create SSH client: %w", err)
	}
	defer client.Close()
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	cmd := strings.TrimSpace(remoteEnv() + " ~/" + remoteDir + "/" + binName)
	fmt.Println("Running:", cmd)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	session.Stdout = os.Stdout
	session.Stderr = os.Stderr
	if err := session.Start(cmd); err != nil {
		return fmt.Errorf("failed to start emitter on host: %w", err)
	}
	go func() {
		sig := <-sigChan
		fmt.Println("Received signal:", sig)
		session.Signal(ssh.SIGTERM)
		<-sigChan
		fmt.Println("Force killing emitter...")
		session.Signal(ssh.SIGKILL)
		session.Close()
		os.Exit(1)
	}()

	err = session.Wait()
	if err == nil {
		return nil
	}
	exitErr, ok := err.(*ssh.ExitError)
	if !ok {
		return fmt.Errorf("failed to wait for emitter to exit: %w", err)
	}
	switch exitErr.ExitStatus() {
	case 130, 143:
		fmt.Println("Emitter stopped by signal")
		return nil
	default:
		return fmt.Errorf("emitter exited with status %d", exitErr.ExitStatus())
	}
}

// Builds and copies the emitter to the Raspberry Pi. Assumes SSH keys are set up.
func (Pi) Deploy(host string, username string) error {
	mg.Deps(Pi.Build)
	connStr := fmt.Sprintf("%s@%s", username, host)
	deployPath := "/home/" + username + "/" + remoteDir
	fmt.Printf("Copying binary via SCP to %s:%s\n", connStr, deployPath)

	if err := sh.Run("ssh", connStr, "mkdir -p", deployPath); err != nil {
		return fmt.Errorf("failed to create deploy path on host: %w", err)
	}
	if err := sh.Run("scp", filepath.Join(buildDir, binName), fmt.Sprintf("%s:%s/%s", connStr, deployPath, binName)); err != nil {
		return fmt.Errorf("failed to deploy to host: %w", err)
	}
	return nil
}

// Builds the emitter for the Raspberry Pi (linux/arm64).
func (Pi) Build() error {
	fmt.Println("Building...")
	env := map[string]string{
		"GOOS":   "linux",
		"GOARCH": "arm64",
	}
	return sh.RunWithV(env, "go", "build", "-o", filepath.Join(buildDir, binName), "./cmd/server.go")
}

// Removes the Pi build output.
func (Pi) Clean() {
	fmt.Println("Cleaning...")
	os.RemoveAll(filepath.Join(buildDir, binName))
}

// remoteEnv renders the local EMITTER_* variables as a shell prefix.
func remoteEnv() string {
	var vars []string
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "EMITTER_") {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		vars = append(vars, k+"='"+strings.ReplaceAll(v, "'", `'\''`)+"'")
	}
	sort.Strings(vars)
	return strings.Join(vars, " ")
}

func sshClient(user, host string) (*ssh.Client, error) {
	var authMethods []ssh.AuthMethod

	conn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
	if err == nil {
		signers, err := agent.NewClient(conn).Signers()
		if err == nil {
			authMethods = append(authMethods, ssh.PublicKeys(preferRSASHA2(signers)...))
		}
	}
	if len(authMethods) == 0 {
		fmt.Println("No SSH keys found...")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Dev only.
	}
	addr := net.JoinHostPort(host, "22")
	fmt.Println("Dialing SSH client to", addr)
	return ssh.Dial("tcp", addr, config)
}

// preferRSASHA2 upgrades RSA agent keys to rsa-sha2 signatures, which newer sshd requires.
func preferRSASHA2(signers []ssh.Signer) []ssh.Signer {
	out := make([]ssh.Signer, 0, len(signers))
	for _, signer := range signers {
		algSigner, ok := signer.(ssh.AlgorithmSigner)
		if !ok || signer.PublicKey().Type() != ssh.KeyAlgoRSA {
			out = append(out, signer)
			continue
		}
		mas, err := ssh.NewSignerWithAlgorithms(algSigner, []string{
			ssh.KeyAlgoRSASHA256,
			ssh.KeyAlgoRSASHA512,
			ssh.KeyAlgoRSA,
		})
		if err != nil {
			out = append(out, signer)
			continue
		}
		out = append(out, mas)
	}
	return out
}
