package runtime

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/opsrun/opsrun/pkg/common"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// SSHOptions configures a remote connection.
type SSHOptions struct {
	User           string
	Port           int
	PrivateKeyFile string
}

// SSHConnection executes against a remote host over SSH, using SFTP for
// file operations.
type SSHConnection struct {
	Host       string
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewSSHConnection dials the host using the SSH agent and/or the configured
// private key file for authentication.
func NewSSHConnection(host string, opts SSHOptions) (*SSHConnection, error) {
	authMethods, err := sshAuthMethods(host, opts.PrivateKeyFile)
	if err != nil {
		return nil, err
	}

	username := opts.User
	if username == "" {
		currentUser, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("failed to get current user for SSH connection to %s: %w", host, err)
		}
		username = currentUser.Username
	}

	port := opts.Port
	if port == 0 {
		port = 22
	}

	clientConfig := &ssh.ClientConfig{
		User: username,
		Auth: authMethods,
		// TODO: verify against known_hosts instead of accepting any key
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH host %s: %w", addr, err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			common.LogWarn("Failed to close SSH client after SFTP error", map[string]interface{}{
				"host":  host,
				"error": closeErr.Error(),
			})
		}
		return nil, fmt.Errorf("failed to open SFTP session to %s: %w", host, err)
	}

	return &SSHConnection{Host: host, sshClient: client, sftpClient: sftpClient}, nil
}

func sshAuthMethods(host, privateKeyFile string) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if privateKeyFile != "" {
		keyPath := privateKeyFile
		if strings.HasPrefix(keyPath, "~/") {
			if homeDir, err := os.UserHomeDir(); err == nil {
				keyPath = strings.Replace(keyPath, "~", homeDir, 1)
			}
		}
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			common.LogWarn("Failed to read SSH private key file", map[string]interface{}{
				"host":     host,
				"key_path": keyPath,
				"error":    err.Error(),
			})
		} else {
			signer, err := ssh.ParsePrivateKey(keyBytes)
			if err != nil {
				common.LogWarn("Failed to parse SSH private key file", map[string]interface{}{
					"host":     host,
					"key_path": keyPath,
					"error":    err.Error(),
				})
			} else {
				authMethods = append(authMethods, ssh.PublicKeys(signer))
			}
		}
	}

	if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			common.LogWarn("Failed to connect to SSH agent, continuing with other auth methods", map[string]interface{}{
				"host":  host,
				"error": err.Error(),
			})
		} else {
			agentClient := agent.NewClient(conn)
			authMethods = append(authMethods, ssh.PublicKeysCallback(agentClient.Signers))
		}
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication methods available for host %s: SSH_AUTH_SOCK not set and no usable private key file", host)
	}
	return authMethods, nil
}

func (c *SSHConnection) ExecuteCommand(command string, opts *CommandOptions) (*CommandResult, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty")
	}

	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open SSH session on host %s: %w", c.Host, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil && closeErr.Error() != "EOF" {
			common.LogWarn("Failed to close SSH session", map[string]interface{}{
				"host":  c.Host,
				"error": closeErr.Error(),
			})
		}
	}()

	cmdToRun := BuildCommand(command, opts)
	common.DebugOutput("Running remote command on %s: %s", c.Host, cmdToRun)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	rc := 0
	if runErr := session.Run(cmdToRun); runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			rc = exitErr.ExitStatus()
		} else {
			return nil, fmt.Errorf("failed to run remote command %q on host %s: %w", cmdToRun, c.Host, runErr)
		}
	}

	return NewCommandResult(cmdToRun, rc, cleanSudoPrompts(stdout.String()), cleanSudoPrompts(stderr.String())), nil
}

func (c *SSHConnection) ReadFile(path string) ([]byte, error) {
	f, err := c.sftpClient.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s on %s: %w", path, c.Host, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			common.LogWarn("Failed to close remote file", map[string]interface{}{
				"file":  path,
				"error": closeErr.Error(),
			})
		}
	}()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("failed to read remote file %s on %s: %w", path, c.Host, err)
	}
	return buf.Bytes(), nil
}

func (c *SSHConnection) WriteFile(path string, data []byte, mode os.FileMode) error {
	f, err := c.sftpClient.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s on %s: %w", path, c.Host, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write remote file %s on %s: %w", path, c.Host, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close remote file %s on %s: %w", path, c.Host, err)
	}
	return c.sftpClient.Chmod(path, mode)
}

func (c *SSHConnection) Stat(path string, follow bool) (os.FileInfo, error) {
	if follow {
		return c.sftpClient.Stat(path)
	}
	return c.sftpClient.Lstat(path)
}

func (c *SSHConnection) Chmod(path string, mode os.FileMode) error {
	return c.sftpClient.Chmod(path, mode)
}

func (c *SSHConnection) Remove(path string) error {
	return c.sftpClient.Remove(path)
}

func (c *SSHConnection) MkdirAll(path string, mode os.FileMode) error {
	if err := c.sftpClient.MkdirAll(path); err != nil {
		return fmt.Errorf("failed to create remote directory %s on %s: %w", path, c.Host, err)
	}
	return c.sftpClient.Chmod(path, mode)
}

func (c *SSHConnection) Close() error {
	if c.sftpClient != nil {
		if err := c.sftpClient.Close(); err != nil {
			common.LogWarn("Failed to close SFTP client", map[string]interface{}{
				"host":  c.Host,
				"error": err.Error(),
			})
		}
		c.sftpClient = nil
	}
	if c.sshClient != nil {
		err := c.sshClient.Close()
		c.sshClient = nil
		return err
	}
	return nil
}
