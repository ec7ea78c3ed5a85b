package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/peteski22/crmresolve/internal/crm"
	"github.com/peteski22/crmresolve/internal/resolver"
)

var (
	createdColor = color.New(color.FgGreen)
	skippedColor = color.New(color.FgHiBlack)
	updatedColor = color.New(color.FgYellow)
)

func createdMark() string { return createdColor.Sprint("✓ created") }

func skippedMark() string { return skippedColor.Sprint("- skipped") }

func updatedMark() string { return updatedColor.Sprint("↻ updated") }

func (a *app) resolveAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-account NAME",
		Short: "Find an account by name, creating it if missing",
		Long: `Find the account with exactly this name and mark it "Updated Account",
or create it with the description "New Account" when none exists.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(svc *resolver.Service) error {
				account, created, err := svc.ResolveAccount(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				mark := updatedMark()
				if created {
					mark = createdMark()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s account %s (%s)\n", mark, account.Name, account.ID)
				return nil
			})
		},
	}
}

func (a *app) linkContactsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "link-contacts",
		Short: "Link contacts to accounts named after their surnames",
		Long: `Read a JSON array of contacts and link each one to the account named after
its LastName, creating missing accounts. Use --file - to read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			contacts, err := readContacts(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			return a.withService(cmd, func(svc *resolver.Service) error {
				result, err := svc.LinkContactsToAccounts(cmd.Context(), contacts)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CONTACT\tID\tACCOUNT ID")
				for _, c := range contacts {
					if c == nil || c.AccountID == "" {
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", contactName(c), c.ID, c.AccountID)
				}
				if err := w.Flush(); err != nil {
					return err
				}

				fmt.Fprintf(out, "\n%s %d accounts, %s %d accounts, linked %d contacts, %s %d contacts\n",
					createdMark(), result.AccountsCreated,
					updatedMark(), result.AccountsUpdated,
					result.ContactsLinked,
					skippedMark(), result.ContactsSkipped)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file of contacts, or - for stdin")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func (a *app) upsertOpportunitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upsert-opportunities ACCOUNT NAME...",
		Short: "Add opportunities to an account, skipping names it already has",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(svc *resolver.Service) error {
				result, err := svc.UpsertOpportunitiesForAccount(cmd.Context(), args[0], args[1:])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if result.AccountCreated {
					fmt.Fprintf(out, "%s account %s (%s)\n", createdMark(), args[0], result.AccountID)
				}
				for _, name := range result.Created {
					fmt.Fprintf(out, "%s opportunity %s\n", createdMark(), name)
				}
				for _, name := range result.Skipped {
					fmt.Fprintf(out, "%s opportunity %s\n", skippedMark(), name)
				}
				return nil
			})
		},
	}
}

func (a *app) findAccountsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "find-accounts NAME...",
		Short: "List accounts with exactly the given names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(store resolver.RecordStore) error {
				q := crm.Where(crm.ObjectAccount, crm.FieldName, args...)
				q.Limit = limit

				records, err := store.Find(cmd.Context(), q)
				if err != nil {
					return fmt.Errorf("finding accounts: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No accounts found.")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
				for _, r := range records {
					account, ok := r.(*crm.Account)
					if !ok {
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", account.ID, account.Name, account.Description)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of accounts to list (0 for all)")

	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete OBJECT ID...",
		Short: "Delete records by ID",
		Long:  "Delete records of one object type (Account, Contact, Opportunity, Lead or Case) by ID.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			object := crm.ObjectType(args[0])
			if object.Fields() == nil {
				return fmt.Errorf("unsupported object type %q", args[0])
			}
			ids := args[1:]

			out := cmd.OutOrStdout()
			return a.withStore(cmd, func(store resolver.RecordStore) error {
				if err := store.Delete(cmd.Context(), object, ids); err != nil {
					return fmt.Errorf("deleting records: %w", err)
				}
				if a.dryRun {
					for _, id := range ids {
						fmt.Fprintf(out, "[DRY-RUN] would delete %s %s\n", object, id)
					}
					return nil
				}
				fmt.Fprintf(out, "✓ Deleted %d %s records\n", len(ids), object)
				return nil
			})
		},
	}
}

// readContacts decodes a JSON array of contacts from path, or from stdin when path is "-".
func readContacts(stdin io.Reader, path string) ([]*crm.Contact, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening contacts file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var contacts []*crm.Contact
	if err := json.NewDecoder(r).Decode(&contacts); err != nil {
		return nil, fmt.Errorf("decoding contacts: %w", err)
	}
	return contacts, nil
}

func contactName(c *crm.Contact) string {
	if c.FirstName == "" {
		return c.LastName
	}
	return c.FirstName + " " + c.LastName
}
