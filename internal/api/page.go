package api

// indexHTML is the single-page front end served at "/".
const indexHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Forecasting Studio</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
  </head>
  <body>
    <h1>Forecasting Studio</h1>
    <div>
      <label>CSV Path (relative):</label>
      <input id="csvPath" value="data/sample_prices.csv" style="width:320px" />
      <button onclick="runBacktest()">Backtest</button>
      <button onclick="runWalkforward()">Walk-Forward</button>
    </div>
    <div style="margin-top:8px">
      <label>Or Upload CSV:</label>
      <input type="file" id="csvfile" />
      <button onclick="upload()">Upload</button>
    </div>
    <p id="log"></p>
    <pre id="report"></pre>
    <canvas id="chart" width="800" height="300"></canvas>

<script>
const logEl = document.getElementById('log');

function connect(){
  const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  const ws = new WebSocket(proto + location.host + '{{WS_PATH}}');
  ws.onopen = () => ws.send(JSON.stringify({ type: 'subscribe', channel: 'walkforward' }));
  ws.onmessage = (ev) => {
    const msg = JSON.parse(ev.data);
    if(msg.type === 'walkforward_window'){
      logEl.innerText = 'Window ' + msg.data.window + ' / ' + msg.data.total;
    }
  };
  ws.onclose = () => setTimeout(connect, 2000);
}
connect();

async function upload(){
  const f = document.getElementById('csvfile').files[0];
  if(!f){ alert('choose file'); return }
  const form = new FormData(); form.append('file', f);
  logEl.innerText = 'Uploading...';
  const res = await fetch('/upload', { method: 'POST', body: form });
  const j = await res.json();
  if(!res.ok){ logEl.innerText = 'Error: ' + j.error; return }
  document.getElementById('csvPath').value = j.saved_to;
  logEl.innerText = 'Uploaded. Preview: ' + JSON.stringify(j.head);
}

async function runBacktest(){
  const csvPath = document.getElementById('csvPath').value;
  logEl.innerText = 'Running backtest...';
  const res = await fetch('/backtest', { method: 'POST', headers: {'Content-Type':'application/json'}, body: JSON.stringify({ csv_path: csvPath, strategy_name: 'sma_cross', params: { fast: 10, slow: 30 } }) });
  const j = await res.json();
  if(!res.ok){ logEl.innerText = 'Error: ' + j.error; return }
  document.getElementById('report').innerText = JSON.stringify(j.report, null, 2);
  logEl.innerText = 'Done';
  drawChart(j.timestamps, j.equity);
}

async function runWalkforward(){
  const csvPath = document.getElementById('csvPath').value;
  logEl.innerText = 'Running walkforward...';
  const res = await fetch('/walkforward', { method: 'POST', headers: {'Content-Type':'application/json'}, body: JSON.stringify({ csv_path: csvPath, strategy_name: 'sma_cross', param_space: { fast: [5,10,20], slow: [30,50] }, insample_days: 3, outsample_days: 1 }) });
  const j = await res.json();
  if(!res.ok){ logEl.innerText = 'Error: ' + j.error; return }
  document.getElementById('report').innerText = JSON.stringify(j, null, 2);
  logEl.innerText = 'Done';
}

let chart = null;
function drawChart(labels, data){
  const ctx = document.getElementById('chart').getContext('2d');
  if(chart) chart.destroy();
  chart = new Chart(ctx, {
    type: 'line',
    data: {
      labels: labels,
      datasets: [{ label: 'Equity', data: data, fill: false, tension: 0.1 }]
    },
    options: { scales: { x: { display: false } } }
  });
}
</script>
  </body>
</html>`
