// Package guildconfig implements typed per-guild settings.
//
// A Factory is an ordered schema of Variables. Spawn loads the stored
// record for one guild and resolves each variable against a Scope (the
// guild's roles, channels and emoji). Values that no longer resolve, such as
// a deleted role, fall back to the variable default and are logged.
//
// Config.Update takes administrator input for several variables at once,
// parses and verifies all of it, and only then writes the record. Hooks
// attached to the changed variables run after the write.
//
//	settings := guildconfig.MustFactory("guild", []guildconfig.Variable{
//		guildconfig.NewStrVar("prefix", guildconfig.WithDefault("!"), guildconfig.NotNull()),
//		guildconfig.NewRoleVar("admin_role"),
//		guildconfig.NewDurationVar("mute_time", guildconfig.WithDefault(600)),
//	}, guildconfig.WithStore(store))
//
//	cfg, err := settings.Spawn(ctx, scope, guildID)
//	err = cfg.Update(ctx, scope, map[string]any{"prefix": "?", "mute_time": "1h 30m"})
package guildconfig
