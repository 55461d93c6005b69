package acl

import "strings"

// ApplyRule applies one rule token (as listed in spec.md §4.7) to u. reg
// resolves command/category names to bits. Unknown commands and malformed
// tokens return the fixed reason-code errors from errors.go; an unknown
// category matches no commands and is not an error.
func ApplyRule(u *User, reg *Registry, token string) error {
	switch token {
	case "on":
		u.Enabled = true
		return nil
	case "off":
		u.Enabled = false
		return nil
	case "allcommands":
		// +@all sets the reserved top bit too, so commands registered
		// after this rule was applied are still covered (spec.md §4.7).
		u.Commands = reg.CategoryBits(CategoryAll).Set(MaxBit)
		return nil
	case "nocommands":
		u.Commands = 0
		return nil
	case "allkeys":
		return u.AddPattern("*")
	case "resetkeys":
		u.ResetKeys()
		return nil
	case "nopass":
		u.NoPass = true
		u.ClearPasswords()
		return nil
	case "resetpass":
		u.NoPass = false
		u.ClearPasswords()
		return nil
	case "reset":
		*u = *NewUser(u.Name)
		return nil
	}

	switch {
	case strings.HasPrefix(token, "+@"):
		cat := Category(token[2:])
		if cat == "" {
			return ErrSyntax
		}
		u.Commands = u.Commands.Union(reg.CategoryBits(cat))
		if cat == CategoryAll {
			// +@all also covers commands registered later, via the
			// reserved top bit (spec.md §4.7).
			u.Commands = u.Commands.Set(MaxBit)
		}
		return nil
	case strings.HasPrefix(token, "-@"):
		cat := Category(token[2:])
		if cat == "" {
			return ErrSyntax
		}
		// Any revocation also drops the reserved "future commands" bit,
		// which Has treats as allowing every command.
		u.Commands = u.Commands.Subtract(reg.CategoryBits(cat)).Clear(MaxBit)
		return nil
	case strings.HasPrefix(token, "+"):
		return applyCommandGrant(u, reg, token[1:], true)
	case strings.HasPrefix(token, "-"):
		return applyCommandGrant(u, reg, token[1:], false)
	case strings.HasPrefix(token, "~"):
		pat := token[1:]
		if pat == "" {
			return ErrSyntax
		}
		return u.AddPattern(pat)
	case strings.HasPrefix(token, ">"):
		if token[1:] == "" {
			return ErrMissingPassword
		}
		u.AddPlaintextPassword(token[1:])
		return nil
	case strings.HasPrefix(token, "<"):
		if token[1:] == "" {
			return ErrMissingPassword
		}
		u.RemovePlaintextPassword(token[1:])
		return nil
	case strings.HasPrefix(token, "#"):
		return u.AddHashedPassword(token[1:])
	case strings.HasPrefix(token, "!"):
		return u.RemoveHashedPassword(token[1:])
	default:
		return ErrSyntax
	}
}

// applyCommandGrant handles `+cmd`, `-cmd`, and `+cmd|sub` forms.
func applyCommandGrant(u *User, reg *Registry, spec string, grant bool) error {
	cmd, sub, hasSub := strings.Cut(spec, "|")
	if cmd == "" {
		return ErrSyntax
	}
	cmd = strings.ToLower(cmd)

	if hasSub {
		if !grant {
			return ErrSyntax // only `+cmd|sub` is meaningful, never `-cmd|sub`
		}
		bit, ok := reg.Bit(cmd)
		if !ok {
			return ErrNameUnknown
		}
		if u.Commands.Has(bit) {
			// The parent command is already fully allowed: a subcommand
			// allowlist entry would be meaningless (spec.md §4.7: "only
			// valid when the parent command's bit is 0").
			return ErrBusyParentCommand
		}
		u.AllowSubcommand(cmd, strings.ToLower(sub))
		return nil
	}

	bit, ok := reg.Bit(cmd)
	if !ok {
		return ErrNameUnknown
	}
	if grant {
		u.Commands = u.Commands.Set(bit)
	} else {
		u.Commands = u.Commands.Clear(bit).Clear(MaxBit)
	}
	return nil
}

// ApplyRules applies each token in order, stopping at the first error.
// Per spec.md §6 ("Lines are validated against a throwaway user first; on
// any error, the in-memory set is unchanged"), callers should apply rules
// to a scratch User first and only commit on full success — see Load.
func ApplyRules(u *User, reg *Registry, tokens []string) error {
	for _, tok := range tokens {
		if err := ApplyRule(u, reg, tok); err != nil {
			return err
		}
	}
	return nil
}

// Describe serializes u back into a rule-token list good enough to
// reconstruct an identical bitmap on a fresh user (spec.md §8's round-trip
// property). Per DESIGN NOTES, this intentionally skips the original's
// set-cover compression: `-@all` followed by individual `+cmd` tokens is
// correct and simple, even if longer than a human would write by hand.
func Describe(u *User, reg *Registry) []string {
	var out []string
	if u.Enabled {
		out = append(out, "on")
	} else {
		out = append(out, "off")
	}
	if u.NoPass {
		out = append(out, "nopass")
	} else {
		for hash := range u.passwordHashes {
			out = append(out, "#"+hash)
		}
	}
	if u.Commands&(1<<MaxBit) != 0 {
		// The reserved top bit covers every command, including ones
		// registered after this rule was applied; "+@all" is the only
		// token that reconstructs that property (spec.md §4.7).
		out = append(out, "+@all")
	} else {
		out = append(out, "-@all")
		for _, name := range reg.SortedCommandsIn(u.Commands) {
			out = append(out, "+"+name)
		}
	}
	for cmd, subs := range u.subAllow {
		for sub := range subs {
			out = append(out, "+"+cmd+"|"+sub)
		}
	}
	if u.AllKeys {
		out = append(out, "allkeys")
	} else {
		for _, p := range u.patterns {
			out = append(out, "~"+p)
		}
	}
	return out
}
