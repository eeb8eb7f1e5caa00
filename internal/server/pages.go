// ABOUTME: Minimal HTML shell pages served before the SPA takes over
// ABOUTME: The login page posts the API key to /api/auth/login

package server

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>agentdeck</title>
</head>
<body>
<div id="app" data-auth-required="false"></div>
<script>
// Surface the gate's retry flag to the shell before any app code loads.
if (new URLSearchParams(location.search).get('auth') === 'required') {
  document.getElementById('app').dataset.authRequired = 'true';
}
</script>
<script type="module" src="/static/app.js"></script>
</body>
</html>
`

const loginHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>agentdeck - sign in</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; justify-content: center; padding-top: 10vh; }
form { display: flex; flex-direction: column; gap: 0.75rem; width: 20rem; }
input, button { padding: 0.5rem; font-size: 1rem; }
.error { color: #b00020; }
</style>
</head>
<body>
<form id="login">
<h1>agentdeck</h1>
<p class="error" id="error" hidden></p>
<input type="password" id="apiKey" placeholder="API key" autocomplete="off" autofocus>
<button type="submit">Sign in</button>
<button type="button" id="oauth" hidden>Sign in with provider</button>
</form>
<script>
const params = new URLSearchParams(location.search);
const errBox = document.getElementById('error');
const errors = {
  oauth_state: 'Sign-in attempt expired or was tampered with. Please try again.',
  token_exchange: 'The identity provider rejected the sign-in. Please try again.',
};
if (errors[params.get('error')]) {
  errBox.textContent = errors[params.get('error')];
  errBox.hidden = false;
}

fetch('/api/runtime-config').then(r => r.json()).then(cfg => {
  if (cfg.oauthEnabled) document.getElementById('oauth').hidden = false;
});

document.getElementById('oauth').addEventListener('click', () => {
  location.href = '/oauth/start';
});

document.getElementById('login').addEventListener('submit', async (e) => {
  e.preventDefault();
  const resp = await fetch('/api/auth/login', {
    method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify({ apiKey: document.getElementById('apiKey').value }),
  });
  if (resp.ok) {
    location.href = params.get('next') || '/';
    return;
  }
  const body = await resp.json().catch(() => ({}));
  errBox.textContent = (body.error && body.error.message) || 'Sign in failed.';
  errBox.hidden = false;
});
</script>
</body>
</html>
`
