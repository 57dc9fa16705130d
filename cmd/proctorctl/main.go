package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/config"
	"talentscreen-backend/internal/database"
	"talentscreen-backend/internal/middleware"
	"talentscreen-backend/internal/models"
	"talentscreen-backend/internal/repository"
	"talentscreen-backend/internal/services"
)

type globalOpts struct {
	databaseURL   string
	sessionSecret string
	frontendURL   string
	policyFile    string
}

func main() {
	godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}

	root := &cobra.Command{
		Use:           "proctorctl",
		Short:         "Administer proctored assessments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	root.PersistentFlags().StringVar(&opts.sessionSecret, "session-secret", os.Getenv("SESSION_TOKEN_SECRET"), "session token signing secret")
	root.PersistentFlags().StringVar(&opts.frontendURL, "frontend-url", envOr("FRONTEND_URL", "http://localhost:5173"), "candidate frontend base URL")
	root.PersistentFlags().StringVar(&opts.policyFile, "policy-file", os.Getenv("ASSESSMENT_POLICY_FILE"), "server assessment policy YAML")

	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newCreateAssessmentCmd(opts))
	root.AddCommand(newCreateSessionCmd(opts))
	root.AddCommand(newIssueTokenCmd(opts))
	root.AddCommand(newRecruiterTokenCmd())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openPool(ctx context.Context, opts *globalOpts) (*pgxpool.Pool, error) {
	if opts.databaseURL == "" {
		return nil, fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	settings := database.DefaultPoolSettings()
	settings.MaxConns, settings.MinConns = 2, 1
	return database.NewPostgresPool(ctx, opts.databaseURL, settings)
}

func sessionTokens(opts *globalOpts) (*middleware.SessionTokens, error) {
	if opts.sessionSecret == "" {
		return nil, fmt.Errorf("--session-secret or SESSION_TOKEN_SECRET is required")
	}
	return middleware.NewSessionTokens(opts.sessionSecret), nil
}

// serverPolicy is the policy the server runs with when an assessment carries
// none of its own.
func serverPolicy(opts *globalOpts) (assessment.Policy, error) {
	return config.LoadPolicy(opts.policyFile)
}

func candidateURL(frontendURL, token string) string {
	return strings.TrimRight(frontendURL, "/") + "/assessment/" + token
}

func newMailer() *services.Mailer {
	return services.NewMailer(services.SMTPSettings{
		Host: os.Getenv("SMTP_HOST"),
		Port: envOr("SMTP_PORT", "587"),
		User: os.Getenv("SMTP_USER"),
		Pass: os.Getenv("SMTP_PASS"),
		From: envOr("SMTP_FROM", "noreply@talentscreen.local"),
	})
}

func newMigrateCmd(opts *globalOpts) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := database.RunMigrations(ctx, pool, dir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")
	return cmd
}

func newCreateAssessmentCmd(opts *globalOpts) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create-assessment",
		Short: "Create an assessment and its questions from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, questions, err := loadAssessmentFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.NewQuestionRepo(pool).CreateAssessment(ctx, a, questions); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created assessment %s (%q, %d questions)\n", a.ID, a.Title, len(questions))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "assessment YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCreateSessionCmd(opts *globalOpts) *cobra.Command {
	var assessmentID, candidate, email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "create-session",
		Short: "Invite a candidate and print their assessment link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			aid, err := uuid.Parse(assessmentID)
			if err != nil {
				return fmt.Errorf("invalid --assessment: %w", err)
			}
			if strings.TrimSpace(candidate) == "" {
				return fmt.Errorf("--candidate is required")
			}
			tokens, err := sessionTokens(opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			a, err := repository.NewQuestionRepo(pool).GetAssessment(ctx, aid)
			if err != nil {
				return fmt.Errorf("assessment %s: %w", aid, err)
			}
			base, err := serverPolicy(opts)
			if err != nil {
				return err
			}
			policy, err := services.OverlayPolicy(base, a.PolicyJSON)
			if err != nil {
				return fmt.Errorf("assessment %s policy: %w", aid, err)
			}

			s := &models.CandidateSession{
				AssessmentID: aid,
				CandidateRef: candidate,
				ExpiresAt:    time.Now().Add(ttl),
			}
			if err := repository.NewSessionRepo(pool).Create(ctx, s); err != nil {
				return err
			}

			token, err := tokens.IssueForLink(s.ID, s.ExpiresAt, services.RunWindow(policy))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "session %s expires %s\n", s.ID, s.ExpiresAt.Format(time.RFC3339))
			_, _ = fmt.Fprintf(out, "token   %s\n", token)
			_, _ = fmt.Fprintf(out, "url     %s\n", candidateURL(opts.frontendURL, token))

			if email == "" {
				return nil
			}
			err = newMailer().SendInvitation(services.Invitation{
				To:         email,
				Assessment: a.Title,
				Link:       candidateURL(opts.frontendURL, token),
				ExpiresAt:  s.ExpiresAt,
			})
			if err != nil {
				return fmt.Errorf("session created but invitation failed: %w", err)
			}
			_, _ = fmt.Fprintf(out, "invited %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment ID")
	cmd.Flags().StringVar(&candidate, "candidate", "", "candidate reference (ATS id or email)")
	cmd.Flags().StringVar(&email, "email", "", "send the link to this address")
	cmd.Flags().DurationVar(&ttl, "ttl", 72*time.Hour, "link lifetime")
	_ = cmd.MarkFlagRequired("assessment")
	_ = cmd.MarkFlagRequired("candidate")
	return cmd
}

func newIssueTokenCmd(opts *globalOpts) *cobra.Command {
	var sessionID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a fresh link for an existing session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(sessionID)
			if err != nil {
				return fmt.Errorf("invalid --session: %w", err)
			}
			tokens, err := sessionTokens(opts)
			if err != nil {
				return err
			}
			policy, err := serverPolicy(opts)
			if err != nil {
				return err
			}
			token, err := tokens.IssueForLink(id, time.Now().Add(ttl), services.RunWindow(policy))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), candidateURL(opts.frontendURL, token))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID")
	cmd.Flags().DurationVar(&ttl, "ttl", 72*time.Hour, "link lifetime; the token also covers one assessment run past it")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newRecruiterTokenCmd() *cobra.Command {
	var recruiterID, secret string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "recruiter-token",
		Short: "Sign a recruiter JWT for the review API and live feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or RECRUITER_JWT_SECRET is required")
			}
			token, err := middleware.NewJWTAuth(secret).GenerateRecruiterToken(recruiterID, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&recruiterID, "recruiter", "", "recruiter ID")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("RECRUITER_JWT_SECRET"), "recruiter JWT secret")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("recruiter")
	return cmd
}
