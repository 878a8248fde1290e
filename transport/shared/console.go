package shared

// ConsoleBridgeScript forwards console.log/warn/error from the page to the
// host as debug.console envelopes. It installs itself once per document.
const ConsoleBridgeScript = `(() => {
  if (window.__isoConsoleBridgeInstalled) return;
  window.__isoConsoleBridgeInstalled = true;
  const toText = (value) => {
    if (typeof value === "string") return value;
    try { return JSON.stringify(value); } catch (_) { return String(value); }
  };
  for (const level of ["log", "warn", "error"]) {
    const original = console[level];
    console[level] = (...args) => {
      try {
        window.webkit?.messageHandlers?.bridge?.postMessage({
          type: "debug.console",
          payload: { level, args: args.map(toText) }
        });
      } catch (_) {}
      if (typeof original === "function") original.apply(console, args);
    };
  }
})();`
