package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/repository"
	"github.com/noah-isme/sibudis-api/internal/service"
	"github.com/noah-isme/sibudis-api/pkg/config"
	"github.com/noah-isme/sibudis-api/pkg/database"
	"github.com/noah-isme/sibudis-api/pkg/export"
	"github.com/noah-isme/sibudis-api/pkg/logger"
)

var migrateCommands = map[string]bool{"up": true, "up-by-one": true, "down": true, "redo": true, "reset": true, "status": true, "version": true}

// systemPrincipal acts for the operator running the CLI.
var systemPrincipal = models.Principal{UserID: "sibudisctl", Role: models.RoleAdmin}

type adminCreator interface {
	Create(ctx context.Context, principal models.Principal, req service.CreateUserRequest, meta service.AuditMeta) (*models.User, error)
}

type driftReader interface {
	Drift(ctx context.Context) ([]models.BalanceDrift, error)
}

// env holds the seams the commands need; tests replace them.
type env struct {
	out          io.Writer
	in           io.Reader
	openDB       func(ctx context.Context) (*sqlx.DB, *zap.Logger, error)
	migrate      func(ctx context.Context, db *sql.DB, command string, args ...string) error
	readPassword func(fd int) ([]byte, error)
	users        func(db *sqlx.DB, logr *zap.Logger) adminCreator
	drift        func(db *sqlx.DB) driftReader
}

func defaultEnv() *env {
	return &env{
		out:          os.Stdout,
		in:           os.Stdin,
		openDB:       openDB,
		migrate:      database.Migrate,
		readPassword: term.ReadPassword,
		users: func(db *sqlx.DB, logr *zap.Logger) adminCreator {
			users := repository.NewUserRepository(db)
			return service.NewUserService(users, repository.NewStudentRepository(db), nil, validator.New(), logr)
		},
		drift: func(db *sqlx.DB) driftReader { return repository.NewTransactionRepository(db) },
	}
}

func openDB(ctx context.Context) (*sqlx.DB, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, logr, nil
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "sibudisctl",
		Short:         "Maintenance commands for the SIBUDIS savings ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.AddCommand(newMigrateCmd(e), newCreateAdminCmd(e), newDriftCmd(e))
	return root
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS]",
		Short: "Apply or inspect database migrations",
		Long:  "Runs goose against the embedded migrations. COMMAND is one of up, up-by-one, down, redo, reset, status, version.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !migrateCommands[args[0]] {
				return fmt.Errorf("%q: unknown migrate command", args[0])
			}
			db, _, err := e.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return e.migrate(cmd.Context(), db.DB, args[0], args[1:]...)
		},
	}
}

func newCreateAdminCmd(e *env) *cobra.Command {
	var email, firstName, lastName string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Long:  "Creates an administrator. The password is read from the terminal, or from stdin when it is not a terminal.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := e.promptPassword()
			if err != nil {
				return err
			}
			db, logr, err := e.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := e.users(db, logr).Create(cmd.Context(), systemPrincipal, service.CreateUserRequest{
				Email:     email,
				FirstName: firstName,
				LastName:  lastName,
				Role:      string(models.RoleAdmin),
				Password:  password,
			}, service.AuditMeta{UserAgent: "sibudisctl"})
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			fmt.Fprintf(e.out, "created administrator %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login e-mail")
	cmd.Flags().StringVar(&firstName, "first-name", "Administrator", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (e *env) promptPassword() (string, error) {
	file, isFile := e.in.(*os.File)
	if !isFile || !term.IsTerminal(int(file.Fd())) {
		line, err := bufio.NewReader(e.in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fd := int(file.Fd())
	fmt.Fprint(e.out, "Password: ")
	first, err := e.readPassword(fd)
	fmt.Fprintln(e.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(e.out, "Confirm password: ")
	second, err := e.readPassword(fd)
	fmt.Fprintln(e.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

func newDriftCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "List students whose stored balance differs from their ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, _, err := e.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			drifts, err := e.drift(db).Drift(cmd.Context())
			if err != nil {
				return err
			}
			return printDrift(e.out, drifts)
		},
	}
}

func printDrift(out io.Writer, drifts []models.BalanceDrift) error {
	if len(drifts) == 0 {
		_, err := fmt.Fprintln(out, "no drift: every stored balance matches its ledger")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tNAME\tCLASS\tSTORED\tLEDGER\tDIFF")
	for _, d := range drifts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.StudentID, d.Name, d.Class,
			export.FormatRupiah(d.StoredBalance), export.FormatRupiah(d.LedgerBalance), export.FormatRupiah(d.Difference()))
	}
	return w.Flush()
}
