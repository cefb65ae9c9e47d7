// Command createuser adds a user account from the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"yetti-auth/internal/config"
	"yetti-auth/internal/database"
	"yetti-auth/internal/logging"
	"yetti-auth/internal/service"
)

func main() {
	username := flag.String("username", "", "username of the new account")
	email := flag.String("email", "", "email address of the new account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		logger.SetLevel(logrus.WarnLevel)
	}

	if err := run(context.Background(), cfg, logger, newConsole(os.Stdin, os.Stdout), *username, *email); err != nil {
		fmt.Fprintf(os.Stderr, "createuser: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger, con *console, username, email string) error {
	var err error
	if username == "" {
		if username, err = con.prompt("Username: "); err != nil {
			return err
		}
	}
	if email == "" {
		if email, err = con.prompt("Email address: "); err != nil {
			return err
		}
	}
	password, err := con.readPassword("Password: ")
	if err != nil {
		return err
	}
	confirmation, err := con.readPassword("Password (again): ")
	if err != nil {
		return err
	}

	repos, err := database.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repos.Close()

	users := service.NewUserService(repos.Users, service.UserOptions{
		PasswordMinLength: cfg.Auth.PasswordMinLength,
		BcryptCost:        cfg.Auth.BcryptCost,
	})
	user, err := users.Register(ctx, service.RegisterInput{
		Username:     username,
		Email:        email,
		Password:     password,
		Confirmation: confirmation,
	})
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(con.out, "User %q created (id %d).\n", user.Username, user.ID)
	return nil
}

// console reads answers from in; passwords are read without echo when in is
// a terminal.
type console struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func newConsole(in io.Reader, out io.Writer) *console {
	con := &console{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		con.fd = int(f.Fd())
		con.tty = true
	}
	return con
}

func (c *console) prompt(label string) (string, error) {
	fmt.Fprint(c.out, label)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (c *console) readPassword(label string) (string, error) {
	if !c.tty {
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(c.out, label)
	b, err := term.ReadPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func describe(err error) error {
	var short *service.PasswordTooShortError
	switch {
	case errors.As(err, &short):
		return fmt.Errorf("password is too short, it must contain at least %d characters", short.Min)
	case errors.Is(err, service.ErrUserAlreadyExists):
		return errors.New("that username is already taken")
	case errors.Is(err, service.ErrPasswordMismatch):
		return errors.New("passwords do not match")
	case errors.Is(err, service.ErrPasswordEntirelyNumeric):
		return errors.New("password is entirely numeric")
	}
	return err
}
