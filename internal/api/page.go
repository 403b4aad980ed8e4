package api

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"CertVerify-Chain/internal/web3"
)

// homeData 是首页模板的数据。
type homeData struct {
	Contract   string
	ChainName  string
	Connected  bool
	Snapshot   web3.ChainSnapshot
	Extensions string
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Certificate Verification Service</title>
    <style>
        body { font-family: Arial; max-width: 800px; margin: 0 auto; padding: 20px; background: #13141a; color: white; }
        .endpoint { background: rgba(255, 255, 255, 0.05); padding: 20px; border-radius: 8px; margin: 20px 0; }
        code { background: #2d2d2d; padding: 2px 5px; border-radius: 3px; }
        .test-form { margin-top: 20px; padding: 20px; background: rgba(255, 255, 255, 0.05); border-radius: 8px; }
        input, button { margin: 10px 0; padding: 8px; }
        button { background: #3B82F6; color: white; border: none; padding: 10px 20px; border-radius: 4px; cursor: pointer; }
        .chat-section { margin-top: 20px; }
        .tool-message { color: #9ca3af; }
    </style>
</head>
<body>
    <h1>🎓 Certificate Verification Service</h1>
    {{if .Connected}}<p>Status: ✅ Connected to {{.ChainName}} (chain {{.Snapshot.ChainID}}, block {{.Snapshot.BlockNumber}})</p>
    {{else}}<p>Status: ⚠️ {{.ChainName}} RPC unreachable</p>{{end}}
    <p>Contract: <code>{{.Contract}}</code></p>

    <div class="test-form">
        <h3>Test Certificate Upload</h3>
        <form action="/verify" method="post" enctype="multipart/form-data">
            <div>
                <label for="certificate">Certificate File:</label><br>
                <input type="file" id="certificate" name="certificate" accept="{{.Extensions}}"><br>
            </div>
            <div>
                <label for="studentAddress">Student Address:</label><br>
                <input type="text" id="studentAddress" name="studentAddress" placeholder="0x..."><br>
            </div>
            <button type="submit">Verify Certificate</button>
        </form>
    </div>

    <div class="chat-section">
        <h3>AI Chat Agent</h3>
        <div id="chat-messages"></div>
        <input type="text" id="chat-input" placeholder="Ask about certificate verification..." style="width: 80%;">
        <button onclick="sendMessage()">Send</button>
    </div>

    <script>
        function append(cls, text) {
            const div = document.createElement('div');
            div.className = 'message ' + cls;
            div.textContent = text;
            const messagesDiv = document.getElementById('chat-messages');
            messagesDiv.appendChild(div);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function sendMessage() {
            const input = document.getElementById('chat-input');
            const message = input.value;
            if (!message) return;
            append('user-message', 'You: ' + message);

            fetch('/chat', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ message: message })
            })
            .then(response => response.json())
            .then(data => {
                if (data.error) {
                    append('error', 'Error: ' + data.error);
                    return;
                }
                append('agent-message', 'Agent: ' + data.response);
            })
            .catch(error => {
                console.error('Error:', error);
                append('error', 'Error: Failed to get response');
            });

            input.value = '';
        }

        document.getElementById('chat-input').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>
`))

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data := homeData{
		Contract:   s.deps.Contract,
		ChainName:  s.deps.ChainName,
		Extensions: strings.Join(s.deps.AllowedExtensions, ","),
	}
	data.Snapshot, data.Connected = s.snapshot(r.Context())

	var buf bytes.Buffer
	if err := homeTemplate.Execute(&buf, data); err != nil {
		s.log.Error("render home page failed", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
