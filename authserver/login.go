package authserver

import "html/template"

type loginPage struct {
	Action              string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Scope               string
}

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Extend MCP Server - Sign in</title>
<style>
body { font-family: system-ui, sans-serif; background: #f5f6f8; margin: 0; }
main { max-width: 420px; margin: 8vh auto; background: #fff; padding: 2rem; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,.1); }
label { display: block; margin-top: 1rem; font-weight: 600; }
input[type=email], input[type=text], input[type=password] { width: 100%; padding: .5rem; margin-top: .25rem; box-sizing: border-box; }
button { margin-top: 1.5rem; width: 100%; padding: .75rem; font-size: 1rem; }
.client { color: #555; font-size: .9rem; }
</style>
</head>
<body>
<main>
<h1>Connect your Extend account</h1>
<p class="client">{{if .ClientID}}<strong>{{.ClientID}}</strong> is requesting access{{else}}An MCP client is requesting access{{end}}{{if .Scope}} (scope: {{.Scope}}){{end}}.</p>
<form method="post" action="{{.Action}}">
<label for="user_email">Email</label>
<input type="email" id="user_email" name="user_email" required autocomplete="email">
<label for="extend_api_key">Extend API key</label>
<input type="text" id="extend_api_key" name="extend_api_key" required autocomplete="off" placeholder="apik_...">
<label for="extend_api_secret">Extend API secret</label>
<input type="password" id="extend_api_secret" name="extend_api_secret" required autocomplete="off">
<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
<input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
<input type="hidden" name="state" value="{{.State}}">
<button type="submit">Authorize</button>
</form>
</main>
</body>
</html>
`))
