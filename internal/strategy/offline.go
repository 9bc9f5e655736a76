package strategy

import (
	"net/http"

	"github.com/tphakala/offlinecache/internal/cachestore"
)

// offlineText is the cache-first answer when nothing can be served.
const offlineText = "Offline"

const offlinePage = `<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sin conexión</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#f5f5f5;color:#333}
main{text-align:center;padding:2rem}
button{margin-top:1rem;padding:.6rem 1.4rem;font-size:1rem;border:0;border-radius:4px;background:#0d6efd;color:#fff;cursor:pointer}
</style>
</head>
<body>
<main>
<h1>Sin conexión</h1>
<p>No hay conexión a internet y esta página no está disponible sin conexión.</p>
<button type="button" onclick="location.reload()">Reintentar</button>
</main>
</body>
</html>
`

// OfflineText returns the plain "Offline" response.
func OfflineText() *cachestore.Response {
	return cachestore.NewResponse(http.StatusOK, "text/plain; charset=utf-8", []byte(offlineText))
}

// OfflinePage returns the offline HTML page with a reload button.
func OfflinePage() *cachestore.Response {
	return cachestore.NewResponse(http.StatusOK, "text/html; charset=utf-8", []byte(offlinePage))
}
