package mcpserver

// SearchGuide tells LLM consumers how directory search behaves.
const SearchGuide = `# HyServers Search Guide

The directory lists game servers. Search runs against a search index that is
derived from the authoritative record store and can briefly lag behind it.

## search_servers

- ` + "`query`" + ` is matched against name, description and tags. Each word must
  match; a trailing partial word matches by prefix. Leave it empty to browse.
- ` + "`tags`" + ` is a comma-separated list. A server matches when it carries
  ANY of the listed tags.
- ` + "`gamemode`" + `, ` + "`language`" + `, ` + "`region`" + ` and ` + "`online`" + ` are exact filters and
  combine with each other and with tags using AND.
- ` + "`sort`" + ` is one of playerCount (default), name, createdAt.
  ` + "`order`" + ` is asc or desc (default).
- Pages are 1-based, 20 results per page by default, at most 100.

The result carries ` + "`servers`" + `, ` + "`facets`" + ` (value counts for gamemode,
tags, language, region and online), ` + "`totalFound`" + ` and ` + "`totalPages`" + `.
When the index is down the result is empty and ` + "`unavailable`" + ` is true;
retry later rather than concluding there are no servers.

## get_server and server_stats

Use the ` + "`id`" + ` of a search hit. get_server reads the record store, so it is
always current. server_stats returns player-count snapshots, newest first.
`
