package main

import "html/template"

const pageStyle = `
    :root{ --bg:#0d1117; --panel:#111827; --border:#1f2937; --fg:#e5e7eb; --muted:#9ca3af; --accent:#22c55e }
    *{ box-sizing:border-box }
    body{ margin:0; padding:24px; background:var(--bg); color:var(--fg); font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Helvetica, Arial }
    .wrap{ max-width:920px; margin:0 auto }
    h1{ margin:0 0 12px 0; font-weight:700 }
    small{ color:var(--muted) }
    button{ background:transparent; border:1px solid var(--border); color:var(--fg); padding:8px 12px; border-radius:6px; font:inherit; cursor:pointer }
    button:hover{ border-color:var(--accent) }
    @media (max-width:640px){ body{ padding:12px } h1{ font-size:18px } }
`

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Anonymous Chat - {{.Name}}</title>
  <style>` + pageStyle + `
    .grid{ display:grid; grid-template-columns:repeat(auto-fill,minmax(200px,1fr)); gap:12px; margin:16px 0 }
    .card{ border:1px solid var(--border); border-radius:10px; background:var(--panel); padding:14px }
    .card form{ margin:0 }
    .card button{ width:100%; text-align:left; border:none; padding:0 }
    .icon{ font-size:28px }
    .name{ font-weight:700; margin:6px 0 }
    .desc{ color:var(--muted); font-size:13px }
    .meta{ display:flex; justify-content:space-between; margin-top:10px; font-size:12px; color:var(--muted) }
    .status-active{ color:var(--accent) }
    .status-cleaned{ color:#f59e0b }
  </style>
</head>
<body>
  <div class="wrap">
    <h1>🐑 Anonymous Chat</h1>
    <small>Pick a room. You get a fresh anonymous number in every room.</small>
    <div class="grid">
      {{range .Rooms}}
      <div class="card">
        <form method="post" action="/rooms/{{.ID}}/enter">
          <button type="submit">
            <div class="icon">{{.Icon}}</div>
            <div class="name">{{.Name}}</div>
            <div class="desc">{{.Description}}</div>
            <div class="meta">
              <span>{{.Online}} online</span>
              <span class="status-{{.Status}}">{{if eq .Status "active"}}active{{else if eq .Status "cleaned"}}cleaned{{else}}waiting{{end}}</span>
            </div>
          </button>
        </form>
      </div>
      {{end}}
    </div>
    <form method="post" action="/rooms/new">
      <button type="submit">✨ Create room</button>
    </form>
  </div>
</body>
</html>`))

var noRoomTmpl = template.Must(template.New("noroom").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <noscript><meta http-equiv="refresh" content="0;url=/" /></noscript>
  <title>Anonymous Chat</title>
</head>
<body>
  <script>
    alert("no chat room selected");
    location.replace("/");
  </script>
</body>
</html>`))

var chatTmpl = template.Must(template.New("chat").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.RoomName}} - {{.Name}}</title>
  <style>` + pageStyle + `
    .term{ border:1px solid var(--border); border-radius:10px; background:var(--panel); overflow:hidden }
    .termbar{ display:flex; align-items:center; justify-content:space-between; padding:10px 12px; border-bottom:1px solid var(--border) }
    .screen{ height:60vh; overflow:auto; padding:14px; line-height:1.5 }
    .row{ display:flex; margin:6px 0 }
    .row.mine{ justify-content:flex-end }
    .bubble{ max-width:70%; padding:8px 12px; border-radius:12px; background:#1f2937; white-space:pre-wrap; word-break:break-word }
    .mine .bubble{ background:#14532d }
    .who{ font-size:12px; margin-bottom:2px }
    .sys{ text-align:center; color:var(--muted); font-size:12px; margin:8px 0 }
    .promptline{ display:flex; gap:8px; padding:12px 14px; border-top:1px solid var(--border) }
    #text{ flex:1 1 auto; min-width:0; background:transparent; border:1px solid var(--border); border-radius:6px; color:var(--fg); padding:8px; font:inherit }
    #status{ font-size:12px; color:var(--muted) }
  </style>
</head>
<body>
  <div class="wrap">
    <div class="term">
      <div class="termbar">
        <a href="/"><button>←</button></a>
        <strong>{{.RoomName}}</strong>
        <span id="status">connecting</span>
      </div>
      <div id="log" class="screen"></div>
      <div class="promptline">
        <input id="text" type="text" autocomplete="off" placeholder="say something" />
        <button id="send">Send</button>
      </div>
    </div>
    <small id="me"></small>
  </div>
  <script>
    const room = {{.RoomID}};
    const roomName = {{.RoomName}};
    const owner = {{.Owner}};
    const log = document.getElementById("log");
    const statusEl = document.getElementById("status");
    const input = document.getElementById("text");
    let open = false;

    function scroll(){ log.scrollTop = log.scrollHeight; }

    function system(text){
      const el = document.createElement("div");
      el.className = "sys";
      el.textContent = text;
      log.appendChild(el);
      scroll();
    }

    function message(m){
      const mine = m.user && m.user.userId === owner;
      const row = document.createElement("div");
      row.className = "row" + (mine ? " mine" : "");
      const bubble = document.createElement("div");
      bubble.className = "bubble";
      if (!mine && m.user) {
        const who = document.createElement("div");
        who.className = "who";
        who.style.color = m.user.color;
        who.textContent = m.user.avatar + " user " + m.user.name;
        bubble.appendChild(who);
      }
      const body = document.createElement("div");
      body.textContent = m.content;
      bubble.appendChild(body);
      row.appendChild(bubble);
      log.appendChild(row);
      scroll();
    }

    const proto = location.protocol === "https:" ? "wss://" : "ws://";
    const ws = new WebSocket(proto + location.host + "/ws?room=" + encodeURIComponent(room) + "&name=" + encodeURIComponent(roomName));
    ws.onopen = () => { open = true; statusEl.textContent = "connected"; };
    ws.onclose = () => { open = false; statusEl.textContent = "disconnected"; input.disabled = true; };
    ws.onmessage = (e) => {
      const ev = JSON.parse(e.data);
      switch (ev.type) {
        case "identity":
          document.getElementById("me").textContent = "You are " + ev.identity.avatar + " user " + ev.identity.name;
          break;
        case "message":
          message(ev.message);
          break;
        case "system":
          system(ev.message.content);
          break;
        case "status":
          statusEl.textContent = ev.status;
          break;
        case "error":
          system("⚠ " + ev.body);
          break;
      }
    };

    function send(){
      const text = input.value;
      if (!open || text.trim() === "") return;
      ws.send(JSON.stringify({type: "send", text}));
      input.value = "";
    }
    document.getElementById("send").onclick = send;
    input.addEventListener("keydown", (e) => { if (e.key === "Enter" && !e.isComposing) { e.preventDefault(); send(); } });
  </script>
</body>
</html>`))
