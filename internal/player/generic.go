package player

import "context"

// Generic implements the Player interface for players like iina and
// celluloid that accept mpv-compatible arguments.
type Generic struct {
	name string
}

func (g *Generic) Name() string { return g.name }

func (g *Generic) Available() bool { return lookup(g.name) }

// Play launches the player with mpv-style flags.
func (g *Generic) Play(ctx context.Context, req Request) error {
	args, err := g.args(req)
	if err != nil {
		return err
	}
	return run(ctx, g.name, args)
}

func (g *Generic) args(req Request) ([]string, error) {
	args, err := mpvArgs(req)
	if err != nil {
		return nil, err
	}
	if g.name != "iina" {
		return args, nil
	}
	// iina-cli forwards mpv options only when prefixed
	out := []string{args[0], "--no-stdin"}
	for _, a := range args[1:] {
		out = append(out, "--mpv-"+a[2:])
	}
	return out, nil
}
