package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dgduncan/go-gh-cache/github"
	"github.com/dgduncan/go-gh-cache/profiles"
	"github.com/dgduncan/go-gh-cache/session"
)

var errNoProfiles = errors.New("profiles need profiles.encryption_secret to be set")

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]

	if cmd == "profiles" {
		return a.profiles(ctx, rest)
	}

	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if info := a.rc.RateLimitInfo(); info != nil {
			a.logger.DebugContext(ctx, "rate limit", "remaining", info.Remaining, "reset", info.Reset)
		}
	}()

	switch cmd {
	case "list":
		return a.list(ctx, s, rest)
	case "branches":
		return a.branches(ctx, s)
	case "labels":
		return a.labels(ctx, s)
	case "retarget":
		return a.retarget(ctx, s, rest)
	case "label":
		return a.label(ctx, s, rest)
	case "ratelimit":
		return a.ratelimit(ctx, s)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// project returns the active saved project, falling back to the github
// section of the configuration.
func (a *app) project(ctx context.Context) (profiles.Project, error) {
	if a.store != nil && !a.cfg.GitHub.DemoMode {
		p, err := a.store.Active(ctx, a.cfg.Profiles.UserID)
		switch {
		case err == nil:
			return *p, nil
		case !errors.Is(err, profiles.ErrNotFound):
			return profiles.Project{}, err
		}
	}

	gh := a.cfg.GitHub
	return profiles.Project{
		UserID:        a.cfg.Profiles.UserID,
		Name:          "config",
		Token:         gh.Token,
		Owner:         gh.Owner,
		Repo:          gh.Repo,
		EnterpriseURL: gh.EnterpriseURL,
		DemoMode:      gh.DemoMode,
	}, nil
}

func (a *app) open(ctx context.Context) (*session.Session, error) {
	p, err := a.project(ctx)
	if err != nil {
		return nil, err
	}
	return a.manager.Open(ctx, p)
}

func (a *app) list(ctx context.Context, s *session.Session, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(a.out)
	search := fs.String("search", "", "filter by title, number, branch or label")
	page := fs.Int("page", 1, "page to show")
	perPage := fs.Int("per-page", github.DefaultSearchPageSize, "pull requests per page")
	all := fs.Bool("all", false, "show every page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *all {
		prs, err := s.Backend.AllUserPRs(ctx, s.User.Login, *search)
		if err != nil {
			return err
		}
		printPRs(a.out, prs)
		fmt.Fprintf(a.out, "\n%d pull requests\n", len(prs))
		return nil
	}

	res, err := s.Backend.SearchUserPRs(ctx, s.User.Login, *search, *page, *perPage)
	if err != nil {
		return err
	}
	printPRs(a.out, res.Items)
	fmt.Fprintf(a.out, "\npage %d of %d, %d pull requests\n", res.Page, max(res.TotalPages, 1), res.TotalCount)
	return nil
}

func printPRs(w io.Writer, prs []github.PullRequest) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tBASE\tUPDATED\tTITLE\tLABELS")
	for _, pr := range prs {
		fmt.Fprintf(tw, "#%d\t%s\t%s\t%s\t%s\n",
			pr.Number, pr.Base.Ref, pr.UpdatedAt.Format(time.DateOnly), pr.Title, strings.Join(pr.LabelNames(), ","))
	}
	tw.Flush()
}

func (a *app) branches(ctx context.Context, s *session.Session) error {
	branches, err := s.Backend.ListBranches(ctx)
	if err != nil {
		return err
	}
	for _, b := range branches {
		fmt.Fprintln(a.out, b)
	}
	return nil
}

func (a *app) labels(ctx context.Context, s *session.Session) error {
	labels, err := s.Backend.ListLabels(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, l := range labels {
		fmt.Fprintf(tw, "%s\t#%s\t%s\n", l.Name, l.Color, l.Description)
	}
	return tw.Flush()
}

// selection turns positional pull request numbers, or every pull request
// matching search when all is set, into a selection.
func selection(ctx context.Context, s *session.Session, args []string, all bool, search string) ([]int, error) {
	if all {
		if len(args) > 0 {
			return nil, errors.New("pass either pull request numbers or -all")
		}
		prs, err := s.Backend.AllUserPRs(ctx, s.User.Login, search)
		if err != nil {
			return nil, err
		}
		return session.SelectAll(prs), nil
	}

	if len(args) == 0 {
		return nil, errors.New("no pull requests selected")
	}
	var selected []int
	for _, arg := range args {
		n, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid pull request number %q", arg)
		}
		selected = session.Select(selected, n)
	}
	return selected, nil
}

func splitLabels(s string) []string {
	var out []string
	for l := range strings.SplitSeq(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func (a *app) retarget(ctx context.Context, s *session.Session, args []string) error {
	fs := flag.NewFlagSet("retarget", flag.ContinueOnError)
	fs.SetOutput(a.out)
	base := fs.String("base", "", "new base branch")
	labels := fs.String("labels", "", "comma separated labels to add after retargeting")
	all := fs.Bool("all", false, "select every open pull request")
	search := fs.String("search", "", "with -all, only pull requests matching this filter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *base == "" {
		return errors.New("retarget: -base is required")
	}

	selected, err := selection(ctx, s, fs.Args(), *all, *search)
	if err != nil {
		return err
	}

	var res session.BulkResult
	if l := splitLabels(*labels); len(l) > 0 {
		res = session.ChangeBaseAndLabel(ctx, s.Backend, selected, *base, l)
	} else {
		res = session.ChangeBase(ctx, s.Backend, selected, *base)
	}
	return a.report(res)
}

func (a *app) label(ctx context.Context, s *session.Session, args []string) error {
	if len(args) == 0 {
		return errors.New("label: expected add, remove or replace")
	}
	action, err := session.ParseLabelAction(args[0])
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("label", flag.ContinueOnError)
	fs.SetOutput(a.out)
	labels := fs.String("labels", "", "comma separated labels")
	clearAll := fs.Bool("clear", false, "with replace and no -labels, remove every label")
	all := fs.Bool("all", false, "select every open pull request")
	search := fs.String("search", "", "with -all, only pull requests matching this filter")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	names := splitLabels(*labels)
	switch {
	case len(names) > 0 && *clearAll:
		return errors.New("label: -clear and -labels are mutually exclusive")
	case len(names) == 0 && action != session.LabelReplace:
		return fmt.Errorf("label %s: -labels is required", action)
	case len(names) == 0 && !*clearAll:
		return errors.New("label replace: pass -labels, or -clear to remove every label")
	}

	selected, err := selection(ctx, s, fs.Args(), *all, *search)
	if err != nil {
		return err
	}

	res, err := session.ManageLabels(ctx, s.Backend, selected, action, names)
	if err != nil {
		return err
	}
	return a.report(res)
}

func (a *app) report(res session.BulkResult) error {
	fmt.Fprintf(a.out, "%d succeeded, %d failed\n", res.Success, res.Failed)
	for _, e := range res.Errors {
		fmt.Fprintln(a.out, "  "+e)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d updates failed", res.Failed, res.Success+res.Failed)
	}
	return nil
}

func (a *app) ratelimit(ctx context.Context, s *session.Session) error {
	if s.Mode == session.Demo {
		fmt.Fprintln(a.out, "demo mode: no quota applies")
		return nil
	}
	info := a.rc.RateLimitInfo()
	if info == nil {
		fmt.Fprintln(a.out, "quota unknown")
		return nil
	}
	fmt.Fprintf(a.out, "remaining %d, used %d, resets %s\n",
		info.Remaining, info.Used, info.Reset.Local().Format(time.Kitchen))
	if !a.rc.CanMakeRequest() {
		fmt.Fprintln(a.out, "requests are paused until the reset")
	}
	if n, err := a.rc.Size(ctx); err == nil {
		fmt.Fprintf(a.out, "%d cached responses\n", n)
	}
	return nil
}

func (a *app) profiles(ctx context.Context, args []string) error {
	if a.store == nil {
		return errNoProfiles
	}
	if len(args) == 0 {
		return errors.New("profiles: expected list, add, use or delete")
	}
	userID := a.cfg.Profiles.UserID

	switch args[0] {
	case "list":
		list, err := a.store.List(ctx, userID)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		for _, p := range list {
			active := ""
			if p.IsActive {
				active = "*"
			}
			repo := p.Owner + "/" + p.Repo
			if p.DemoMode {
				repo = "demo"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", active, p.Name, repo, p.EnterpriseURL)
		}
		return tw.Flush()

	case "add":
		fs := flag.NewFlagSet("profiles add", flag.ContinueOnError)
		fs.SetOutput(a.out)
		p := profiles.Project{UserID: userID}
		fs.StringVar(&p.Name, "name", "", "profile name")
		fs.StringVar(&p.Token, "token", "", "personal access token")
		fs.StringVar(&p.Owner, "owner", "", "repository owner")
		fs.StringVar(&p.Repo, "repo", "", "repository name")
		fs.StringVar(&p.EnterpriseURL, "enterprise-url", "", "GitHub Enterprise base URL")
		fs.BoolVar(&p.RequiresVPN, "vpn", false, "the server is only reachable over VPN")
		fs.BoolVar(&p.DemoMode, "demo", false, "use synthetic data")
		activate := fs.Bool("activate", true, "make this the active profile")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := a.store.Create(ctx, &p, *activate); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "created %s (%s)\n", p.Name, p.ID)
		return nil

	case "use", "delete":
		if len(args) != 2 {
			return fmt.Errorf("profiles %s: expected a profile name", args[0])
		}
		p, err := a.findProfile(ctx, args[1])
		if err != nil {
			return err
		}
		if args[0] == "use" {
			return a.store.SetActive(ctx, userID, p.ID)
		}
		return a.store.Delete(ctx, userID, p.ID)
	}
	return fmt.Errorf("profiles: unknown command %q", args[0])
}

func (a *app) findProfile(ctx context.Context, name string) (*profiles.Project, error) {
	list, err := a.store.List(ctx, a.cfg.Profiles.UserID)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.Name == name || p.ID == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", profiles.ErrNotFound, name)
}
