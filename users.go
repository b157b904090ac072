package main

import (
	"fmt"
	"regexp"

	"github.com/deemkeen/rendezvous/activitypub"
	"github.com/deemkeen/rendezvous/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

func addUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adduser <handle>",
		Short: "Create a local actor with a fresh key pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := args[0]
			if !handlePattern.MatchString(handle) {
				return fmt.Errorf("invalid handle %q: use 1-32 lowercase letters, digits or underscores", handle)
			}

			conf, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			database, err := openDB(cmd.Context(), conf, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			keys, err := util.GeneratePemKeypair()
			if err != nil {
				return err
			}
			actor, err := database.CreateActor(cmd.Context(), handle, keys.Public, keys.Private)
			if err != nil {
				return fmt.Errorf("failed to create actor: %w", err)
			}

			logger.Info("actor created", zap.String("actor", actor.ID))
			fmt.Println(actor.ID)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <handle>",
		Short: "Issue a bearer session token for a local actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			database, err := openDB(cmd.Context(), conf, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			actor, err := database.ReadActorByHandle(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("unknown actor %q: %w", args[0], err)
			}

			token, err := activitypub.NewTokens(conf.Conf.TokenSecret, conf.Conf.TokenTTL).Issue(actor.ID)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
