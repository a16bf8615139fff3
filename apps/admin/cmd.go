package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/maintenance"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

// commandLine runs the admin commands; the services are those of the API.
type commandLine struct {
	out            io.Writer
	db             *sql.DB
	usrRepo        user.Repository
	usrSvc         user.Service
	partnerSvc     partner.Service
	paymentSvc     payment.Service
	documentSvc    document.Service
	maintenanceSvc maintenance.Service
}

var commands = []struct{ name, usage string }{
	{"migrate", "migrate COMMAND [ARGS] - run a goose command (up, down, status, redo, create NAME sql, ...)"},
	{"adduser", "adduser -name NAME -username USERNAME -email EMAIL [-admin] - create or update an active user; the password is prompted"},
	{"resetpassword", "resetpassword -username USERNAME|EMAIL - reset user's password; the password is prompted"},
	{"backfill-documents", "backfill-documents [-dry-run] - add the missing required documents of approved registrations"},
	{"add-missing-deadlines", "add-missing-deadlines [-dry-run] - add the missing payment deadlines of approved registrations"},
	{"migrate-partners", "migrate-partners [-dry-run] - turn the legacy partner users into partner companies"},
	{"fix-referral-codes", "fix-referral-codes [-dry-run] - give a unique referral code to companies and partners"},
	{"cleanup-storage", "cleanup-storage [-older-than 72h] [-dry-run] - delete the stored files no document refers to"},
	{"orphaned-users", "orphaned-users [-older-than 720h] [-delete] - list (or delete) the users without registrations nor documents"},
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	for _, cmd := range commands {
		fmt.Fprintf(cli.out, "  %s\n", cmd.usage)
	}
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// parse maps flag.ErrHelp to errHelp.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return errHelp
		}
		return err
	}
	return nil
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "adduser":
		cmd := cli.newFlagSet("adduser")
		name := cmd.String("name", "", "The user's full name.")
		uname := cmd.String("username", "", "The user's username.")
		email := cmd.String("email", "", "The user's email.")
		isAdmin := cmd.Bool("admin", false, "Give the user every admin role.")
		if err := parse(cmd, args[2:]); err != nil {
			return err
		}
		if *uname == "" && *email == "" {
			cmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, *name, *uname, *email, pwd, *isAdmin)

	case "resetpassword":
		cmd := cli.newFlagSet("resetpassword")
		uname := cmd.String("username", "", "The user's username or email. The password will be prompted next.")
		if err := parse(cmd, args[2:]); err != nil {
			return err
		}
		if *uname == "" {
			cmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *uname, pwd)

	case "backfill-documents", "add-missing-deadlines", "migrate-partners", "fix-referral-codes":
		cmd := cli.newFlagSet(args[1])
		dryRun := cmd.Bool("dry-run", false, "Only report the changes.")
		if err := parse(cmd, args[2:]); err != nil {
			return err
		}
		switch args[1] {
		case "backfill-documents":
			return cli.backfillDocuments(ctx, *dryRun)
		case "add-missing-deadlines":
			return cli.addMissingDeadlines(ctx, *dryRun)
		case "migrate-partners":
			return cli.migratePartners(ctx, *dryRun)
		default:
			return cli.fixReferralCodes(ctx, *dryRun)
		}

	case "cleanup-storage":
		cmd := cli.newFlagSet("cleanup-storage")
		olderThan := cmd.Duration("older-than", 72*time.Hour, "Only delete the files stored before this long ago.")
		dryRun := cmd.Bool("dry-run", false, "Only list the files.")
		if err := parse(cmd, args[2:]); err != nil {
			return err
		}
		if *olderThan <= 0 {
			return errors.New("-older-than must be positive")
		}
		return cli.cleanupStorage(ctx, *olderThan, *dryRun)

	case "orphaned-users":
		cmd := cli.newFlagSet("orphaned-users")
		olderThan := cmd.Duration("older-than", 30*24*time.Hour, "Only consider the users created before this long ago.")
		del := cmd.Bool("delete", false, "Delete the listed users.")
		if err := parse(cmd, args[2:]); err != nil {
			return err
		}
		if *olderThan <= 0 {
			return errors.New("-older-than must be positive")
		}
		return cli.orphanedUsers(ctx, *olderThan, *del)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) backfillDocuments(ctx context.Context, dryRun bool) error {
	results, err := cli.documentSvc.BackfillRequired(ctx, dryRun)
	if err != nil {
		return err
	}
	var n int
	for _, res := range results {
		n += len(res.Created)
		fmt.Fprintf(cli.out, "registration %s (user %s): %s\n", res.RegistrationID, res.UserID, strings.Join(res.Created, ", "))
	}
	cli.summary(dryRun, "%d missing documents in %d registrations", n, len(results))
	return nil
}

func (cli *commandLine) addMissingDeadlines(ctx context.Context, dryRun bool) error {
	results, err := cli.paymentSvc.AddMissingDeadlines(ctx, dryRun)
	if err != nil {
		return err
	}
	var n int
	for _, res := range results {
		n += res.Added
		fmt.Fprintf(cli.out, "registration %s: %d deadlines\n", res.RegistrationID, res.Added)
	}
	cli.summary(dryRun, "%d missing deadlines in %d registrations", n, len(results))
	return nil
}

func (cli *commandLine) migratePartners(ctx context.Context, dryRun bool) error {
	results, err := cli.partnerSvc.MigrateLegacyPartners(ctx, dryRun)
	if err != nil {
		return err
	}
	var n int
	for _, res := range results {
		n += res.Registrations
		status := "new"
		if res.Reused {
			status = "existing"
		}
		fmt.Fprintf(cli.out, "partner %s (%s) -> %s company %q [%s]: %d registrations\n",
			res.UserID, res.UserName, status, res.CompanyName, res.ReferralCode, res.Registrations)
	}
	cli.summary(dryRun, "%d partners migrated with %d registrations", len(results), n)
	return nil
}

func (cli *commandLine) fixReferralCodes(ctx context.Context, dryRun bool) error {
	changes, err := cli.partnerSvc.FixReferralCodes(ctx, dryRun)
	if err != nil {
		return err
	}
	for _, ch := range changes {
		old := ch.OldCode
		if old == "" {
			old = "<none>"
		}
		fmt.Fprintf(cli.out, "%s %s: %s -> %s\n", ch.Kind, ch.ID, old, ch.NewCode)
	}
	cli.summary(dryRun, "%d referral codes changed", len(changes))
	return nil
}

func (cli *commandLine) cleanupStorage(ctx context.Context, olderThan time.Duration, dryRun bool) error {
	objects, err := cli.documentSvc.CleanupStorage(ctx, olderThan, dryRun)
	if err != nil {
		return err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	var size int64
	for _, obj := range objects {
		size += obj.Size
		fmt.Fprintf(cli.out, "%s (%d bytes, %s)\n", obj.Key, obj.Size, obj.LastModified.Format(time.RFC3339))
	}
	cli.summary(dryRun, "%d unreferenced files deleted (%d bytes)", len(objects), size)
	return nil
}

func (cli *commandLine) orphanedUsers(ctx context.Context, olderThan time.Duration, del bool) error {
	users, err := cli.maintenanceSvc.OrphanedUsers(ctx, olderThan)
	if err != nil {
		return err
	}
	for _, usr := range users {
		fmt.Fprintf(cli.out, "%s %s <%s> created %s\n", usr.ID, usr.Username, usr.Email, usr.CreatedAt.Format("2006-01-02"))
	}
	if !del {
		fmt.Fprintf(cli.out, "%d orphaned users\n", len(users))
		return nil
	}
	n, err := cli.maintenanceSvc.DeleteOrphanedUsers(ctx, olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d orphaned users deleted\n", n)
	return nil
}

func (cli *commandLine) summary(dryRun bool, format string, args ...interface{}) {
	if dryRun {
		format = "[dry run] " + format
	}
	fmt.Fprintf(cli.out, format+"\n", args...)
}
