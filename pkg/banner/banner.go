package banner

import (
	"fmt"

	"inkwell/pkg/config"
)

const banner = `
██╗███╗   ██╗██╗  ██╗██╗    ██╗███████╗██╗     ██╗
██║████╗  ██║██║ ██╔╝██║    ██║██╔════╝██║     ██║
██║██╔██╗ ██║█████╔╝ ██║ █╗ ██║█████╗  ██║     ██║
██║██║╚██╗██║██╔═██╗ ██║███╗██║██╔══╝  ██║     ██║
██║██║ ╚████║██║  ██╗╚███╔███╔╝███████╗███████╗███████╗
╚═╝╚═╝  ╚═══╝╚═╝  ╚═╝ ╚══╝╚══╝ ╚══════╝╚══════╝╚══════╝
`

// PrintWithEff prints the startup banner with the resolved config.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if eff.Config != nil {
		fmt.Printf("Posts DB: %s\n", eff.Config.Server.PostsDBPath)
		fmt.Printf("Env:      %s\n", eff.Config.Server.Env)
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config sources: %s\n", src)
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /v1/posts              - List published posts")
	fmt.Println("GET  /v1/posts/{slug}       - Fetch one post")
	fmt.Println("GET  /v1/search?q=<query>   - Full-text search")
	fmt.Println("GET  /rss.xml, /sitemap.xml - Feeds")
	fmt.Println("     /v1/admin/*            - Keyed admin surface")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl 'http://localhost%s/v1/posts'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/search?q=hello'\n", addr)
}
