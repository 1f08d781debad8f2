// wallet-init creates or restores the encrypted local wallet the daemon
// reads, without starting the daemon itself.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	daemoncomposition "chainmail/go-backend/internal/composition/daemon"
	"chainmail/go-backend/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	var (
		dataDir          = flag.String("data-dir", "", "daemon data directory (default per-user data dir)")
		importWallet     = flag.Bool("import", false, "restore a wallet from a mnemonic read on stdin")
		force            = flag.Bool("force", false, "replace an existing wallet file")
		promptPassphrase = flag.Bool("prompt-passphrase", false, "ask for the storage passphrase instead of resolving it from the environment")
	)
	flag.Parse()

	dir := strings.TrimSpace(*dataDir)
	if dir == "" {
		dir = daemoncomposition.DefaultDataDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		failf("create data dir: %v", err)
	}

	secret, prompted, err := resolveSecret(dir, *promptPassphrase)
	if err != nil {
		failf("resolve storage passphrase: %v", err)
	}

	walletPath := filepath.Join(dir, "wallet.enc")
	if _, err := os.Stat(walletPath); err == nil && !*force {
		failf("%s already holds a wallet; pass -force to replace it", walletPath)
	}

	if *importWallet {
		mnemonic, err := readMnemonic()
		if err != nil {
			failf("read mnemonic: %v", err)
		}
		w, err := wallet.ImportMnemonic(walletPath, secret, mnemonic)
		if err != nil {
			failf("restore wallet: %v", err)
		}
		writeStdoutf("Restored wallet %s\n", w.Address())
		writeStdoutf("  %s\n", walletPath)
		printPassphraseHint(prompted)
		return
	}

	mnemonic, w, err := wallet.CreateLocalWallet()
	if err != nil {
		failf("create wallet: %v", err)
	}
	if _, err := wallet.ImportMnemonic(walletPath, secret, mnemonic); err != nil {
		failf("persist wallet: %v", err)
	}
	writeStdoutf("Created wallet %s\n", w.Address())
	writeStdoutf("  %s\n", walletPath)
	writeStdoutln("")
	writeStdoutln("Recovery mnemonic, shown once. Write it down:")
	writeStdoutf("  %s\n", mnemonic)
	printPassphraseHint(prompted)
}

// resolveSecret either prompts on the terminal or falls back to the same
// resolution chain the daemon uses, so both sides open the same files.
func resolveSecret(dataDir string, prompt bool) (string, bool, error) {
	if !prompt {
		secret, err := daemoncomposition.StoragePassphrase(dataDir)
		return secret, false, err
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false, fmt.Errorf("stdin is not a terminal; set CHAINMAIL_STORAGE_PASSPHRASE instead")
	}
	fmt.Fprint(os.Stderr, "Storage passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", false, err
	}
	fmt.Fprint(os.Stderr, "Repeat passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", false, err
	}
	if string(first) != string(second) {
		return "", false, fmt.Errorf("passphrases do not match")
	}
	secret := strings.TrimSpace(string(first))
	if secret == "" {
		return "", false, fmt.Errorf("passphrase must not be empty")
	}
	return secret, true, nil
}

func readMnemonic() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Mnemonic: ")
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	mnemonic := strings.TrimSpace(line)
	if mnemonic == "" {
		return "", fmt.Errorf("mnemonic must not be empty")
	}
	return mnemonic, nil
}

func printPassphraseHint(prompted bool) {
	if !prompted {
		return
	}
	writeStdoutln("")
	writeStdoutln("Start the daemon with CHAINMAIL_STORAGE_PASSPHRASE set to the same passphrase.")
}

func failf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format+"\n", args...); err != nil {
		os.Exit(1)
	}
	os.Exit(1)
}

func writeStdoutln(line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(1)
	}
}

func writeStdoutf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(1)
	}
}
