// Package main: session lifecycle commands (archive, restore, rename,
// delete). These run through the same admin dispatcher an RPC transport
// would use; rename and delete take the internal admin path that bypasses
// ownership checks, since collabd operates on behalf of the server itself.
package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"collabsync/internal/admin"
	"collabsync/internal/session"
)

var (
	archiveName     string
	restoreName     string
	restoreOwner    string
	restoreDevice   string
	deleteKeepData  bool
	filterIgnored   bool
	filterLiveOnly  bool
	filterMetaOnly  bool
	filterAnonymize bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive <session-id>",
	Short: "Archive a live session",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchive,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <archived-id>",
	Short: "Restore an archived session as a new live session",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

var renameCmd = &cobra.Command{
	Use:   "rename <session-id> <new-name>",
	Short: "Rename a live or archived session",
	Args:  cobra.ExactArgs(2),
	RunE:  runRename,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a live or archived session",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func migrationFilter() session.Filter {
	return session.Filter{
		IncludeIgnoredActivities: filterIgnored,
		OnlyLiveData:             filterLiveOnly,
		MetadataOnly:             filterMetaOnly,
		Anonymize:                filterAnonymize,
	}
}

func runArchive(cmd *cobra.Command, args []string) error {
	sessionID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.close()

	resp := env.dispatcher.ArchiveSession(admin.ArchiveSessionRequest{
		SessionID:    sessionID,
		NameOverride: archiveName,
		Filter:       migrationFilter(),
	})
	if !resp.Ok() {
		return fmt.Errorf("archive failed: %s", resp.Reason)
	}
	fmt.Printf("Archived %s as %s\n", sessionID, resp.ArchivedID)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	archivedID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid archived session id %q: %w", args[0], err)
	}
	if restoreName == "" {
		return fmt.Errorf("--name is required")
	}
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.close()

	resp := env.dispatcher.RestoreSession(admin.RestoreSessionRequest{
		ArchivedID:  archivedID,
		SessionName: restoreName,
		OwnerUser:   restoreOwner,
		OwnerDevice: restoreDevice,
		Filter:      migrationFilter(),
	})
	if !resp.Ok() {
		return fmt.Errorf("restore failed: %s", resp.Reason)
	}
	fmt.Printf("Restored %s as live session %q (%s)\n",
		archivedID, resp.SessionInfo.SessionName, resp.SessionInfo.SessionID)
	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	sessionID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.reg.Rename(sessionID, args[1], session.Requester{Admin: true}); err != nil {
		return fmt.Errorf("rename failed: %w", err)
	}
	fmt.Printf("Renamed %s to %q\n", sessionID, args[1])
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	sessionID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.reg.Destroy(sessionID, session.Requester{Admin: true}, !deleteKeepData); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Printf("Deleted %s\n", sessionID)
	return nil
}

func init() {
	archiveCmd.Flags().StringVar(&archiveName, "name", "", "archive name (defaults to the session name)")
	restoreCmd.Flags().StringVar(&restoreName, "name", "", "name for the restored live session")
	restoreCmd.Flags().StringVar(&restoreOwner, "owner", "", "owner user of the restored session")
	restoreCmd.Flags().StringVar(&restoreDevice, "device", "", "owner device of the restored session")
	deleteCmd.Flags().BoolVar(&deleteKeepData, "keep-data", false, "unregister only; leave the on-disk directory")

	for _, cmd := range []*cobra.Command{archiveCmd, restoreCmd} {
		cmd.Flags().BoolVar(&filterIgnored, "include-ignored", false, "copy activities marked ignored")
		cmd.Flags().BoolVar(&filterLiveOnly, "live-only", false, "drop superseded transactions and non-head package revisions")
		cmd.Flags().BoolVar(&filterMetaOnly, "metadata-only", false, "copy the activity index without blob payloads")
		cmd.Flags().BoolVar(&filterAnonymize, "anonymize", false, "replace client identities with pseudonyms")
	}
}
