package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/convert/internal/archive"
	"github.com/mattjoyce/convert/internal/printer"
)

var (
	passkeyFlag string
	unsealOut   string
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file.cvbak>",
	Short: "Check that an archive decrypts and is complete",
	Long: `Decrypt every frame of an archive without writing the plaintext.

The passkey comes from --passkey, then $CONVERT_PASSKEY, then backup.passkey.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var unsealCmd = &cobra.Command{
	Use:   "unseal <file.cvbak>",
	Short: "Decrypt an archive to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnseal,
}

func init() {
	for _, c := range []*cobra.Command{verifyCmd, unsealCmd} {
		c.Flags().StringVar(&passkeyFlag, "passkey", "", "Archive passkey")
		rootCmd.AddCommand(c)
	}
	unsealCmd.Flags().StringVarP(&unsealOut, "output", "o", "", "Output path (defaults to the archive name without .cvbak)")
}

func resolvePasskey() ([]byte, error) {
	if passkeyFlag != "" {
		return []byte(passkeyFlag), nil
	}
	if v := os.Getenv("CONVERT_PASSKEY"); v != "" {
		return []byte(v), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Backup.Passkey == "" {
		return nil, errors.New("no passkey: use --passkey, $CONVERT_PASSKEY or backup.passkey")
	}
	return []byte(cfg.Backup.Passkey), nil
}

func explainArchiveErr(err error) string {
	switch {
	case errors.Is(err, archive.ErrAuth):
		return "wrong passkey, or the archive was modified"
	case errors.Is(err, archive.ErrTruncated):
		return "the archive is incomplete"
	case errors.Is(err, archive.ErrBadMagic):
		return "not a convert archive"
	default:
		return err.Error()
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	if !archive.HasExtension(path) {
		return out.Error("Invalid file format. Expected "+archive.Extension, path)
	}
	passkey, err := resolvePasskey()
	if err != nil {
		return out.Error("cannot verify", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := archive.VerifyFile(ctx, path, passkey)
	if err != nil {
		return out.Error("verification failed", explainArchiveErr(err))
	}
	printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success("%s is intact (%s)", filepath.Base(path), humanize.IBytes(uint64(n)))
	return nil
}

func runUnseal(cmd *cobra.Command, args []string) error {
	path := args[0]
	if !archive.HasExtension(path) {
		return out.Error("Invalid file format. Expected "+archive.Extension, path)
	}
	passkey, err := resolvePasskey()
	if err != nil {
		return out.Error("cannot unseal", err.Error())
	}
	dst := unsealOut
	if dst == "" {
		dst = strings.TrimSuffix(path, filepath.Ext(path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := unsealTo(ctx, path, dst, passkey)
	if err != nil {
		return out.Error("unseal failed", explainArchiveErr(err))
	}
	printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success("wrote %s (%s)", dst, humanize.IBytes(uint64(n)))
	return nil
}

// unsealTo decrypts src into dst through a temp file, so a failed run never
// leaves partial plaintext at dst.
func unsealTo(ctx context.Context, src, dst string, passkey []byte) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if _, err := os.Stat(dst); err == nil {
		return 0, fmt.Errorf("%s already exists", dst)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".unseal-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := archive.Open(ctx, tmp, in, passkey)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), dst)
}
