package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"addrbook/internal/auth"
	"addrbook/internal/config"
	"addrbook/internal/database"
	puser "addrbook/internal/platform/user"
)

var (
	apiBaseURL string
	username   string
)

type ResponseError struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

type SearchResponse struct {
	Outcome string           `json:"outcome"`
	Message string           `json:"message"`
	Entries []database.Entry `json:"entries"`
}

var apiServiceBase = func() *resty.Client {
	return resty.New().
		SetBaseURL(apiBaseURL).
		SetHeader("Accept", "application/json").
		SetError(&ResponseError{}).
		OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
			if resp.StatusCode() >= 400 {
				if e, ok := resp.Error().(*ResponseError); ok && e.Message != "" {
					return errors.New(e.Message)
				}
				return fmt.Errorf("request failed with status %d", resp.StatusCode())
			}

			return nil
		})
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		return string(password), err
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var rootCmd = &cobra.Command{
	Use:   "addrbook",
	Short: "Address book CLI",
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db, err := database.Connect(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		if err := database.Migrate(ctx, db); err != nil {
			return err
		}

		fmt.Println("Database is up to date")
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userConfirmLinkCmd = &cobra.Command{
	Use:   "confirm-link <username>",
	Short: "Print a fresh confirmation link for a pending account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db, err := database.Connect(cfg)
		if err != nil {
			return err
		}

		tokens := auth.NewTokenGenerator(cfg.SecretKey, cfg.TokenTimeoutDays)
		users := puser.NewService(puser.NewRepository(db), nil, tokens, cfg.Sender())

		link, err := users.ConfirmationLink(cmd.Context(), args[0], cfg.BaseURL)
		if err != nil {
			return err
		}

		fmt.Println(link)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <last-name-prefix>",
	Short: "Search entries on a running server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var prefix string
		if len(args) == 1 {
			prefix = args[0]
		}

		password, err := readPassword()
		if err != nil {
			return err
		}

		client := apiServiceBase()

		if _, err := client.R().
			SetBody(map[string]string{
				"username": username,
				"password": password,
			}).
			Post("/auth/login"); err != nil {
			return err
		}

		resp, err := client.R().
			SetQueryParam("last", prefix).
			SetResult(&SearchResponse{}).
			Get("/entries")
		if err != nil {
			return err
		}

		result := resp.Result().(*SearchResponse)
		if result.Outcome == "no_match" {
			fmt.Println(result.Message)
			return nil
		}

		for _, e := range result.Entries {
			fmt.Printf("%-6d %s, %s\t%s\t%s\n", e.ID, e.LastName, e.FirstName, e.Email, e.CellPhone)
		}
		return nil
	},
}

func main() {
	userCmd.AddCommand(userConfirmLinkCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVarP(&apiBaseURL, "api", "a", "http://localhost:3000/api", "API base URL")
	searchCmd.Flags().StringVarP(&username, "user", "u", "", "Username")
	searchCmd.MarkFlagRequired("user")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
