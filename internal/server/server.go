package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/audiolibrelab/castpanel/internal/config"
	"github.com/audiolibrelab/castpanel/internal/mixer"
	"github.com/audiolibrelab/castpanel/internal/service"
)

// Server represents the web server for controlling castpanel
type Server struct {
	service       service.Service
	cfg           *config.Config
	configFile    string
	port          string
	activeProfile string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Running       bool                 `json:"running"`
	ActiveProfile string               `json:"active_profile"`
	Panels        []service.PanelState `json:"panels"`
	ChannelCount  int                  `json:"channel_count"`
	PluginCount   int                  `json:"plugin_count"`
	LastError     string               `json:"last_error,omitempty"`
}

// MixerResponse represents the JSON response for the mixer endpoint
type MixerResponse struct {
	Channels []mixer.Channel `json:"channels"`
	Master   mixer.Master    `json:"master"`
}

// MeterResponse represents one meter reading
type MeterResponse struct {
	Target     string  `json:"target"`
	Peak       float64 `json:"peak"`
	RMS        float64 `json:"rms"`
	SampleRate int     `json:"sample_rate"`
	Frames     int     `json:"frames"`
}

// ProcessorSettingsRequest carries a parameter delta for a processor
type ProcessorSettingsRequest struct {
	Channel   string         `json:"channel"`
	Processor string         `json:"processor"`
	Settings  map[string]any `json:"settings"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(configFile string, port string) (*Server, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithProfile(configFile, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	activeProfileName := getActiveProfileName(configFile)

	svc, err := service.New(cfg, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	return &Server{
		service:       svc,
		cfg:           cfg,
		configFile:    configFile,
		port:          port,
		activeProfile: activeProfileName,
	}, nil
}

// NewWithService creates a web server around an existing service
func NewWithService(svc service.Service, cfg *config.Config, configFile, port string) *Server {
	return &Server{
		service:       svc,
		cfg:           cfg,
		configFile:    configFile,
		port:          port,
		activeProfile: getActiveProfileName(configFile),
	}
}

// routes builds the request mux
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/config/select", s.handleSelectProfile)
	mux.HandleFunc("/config/active", s.handleActiveProfile)
	// Panel endpoints
	mux.HandleFunc("/api/panels", s.handlePanels)
	mux.HandleFunc("/api/panels/open", s.handlePanelOpen)
	mux.HandleFunc("/api/panels/close", s.handlePanelClose)
	mux.HandleFunc("/api/panels/toggle", s.handlePanelToggle)
	mux.HandleFunc("/api/panels/focus", s.handlePanelFocus)
	// Mixer endpoints
	mux.HandleFunc("/api/mixer", s.handleMixer)
	mux.HandleFunc("/api/mixer/channels/add", s.handleChannelAdd)
	mux.HandleFunc("/api/mixer/gain", s.handleChannelGain)
	mux.HandleFunc("/api/mixer/pan", s.handleChannelPan)
	mux.HandleFunc("/api/mixer/mute", s.handleChannelMute)
	mux.HandleFunc("/api/mixer/solo", s.handleChannelSolo)
	mux.HandleFunc("/api/mixer/select", s.handleSelect)
	mux.HandleFunc("/api/mixer/processors/add", s.handleProcessorAdd)
	mux.HandleFunc("/api/mixer/processors/remove", s.handleProcessorRemove)
	mux.HandleFunc("/api/mixer/processors/toggle", s.handleProcessorToggle)
	mux.HandleFunc("/api/mixer/processors/settings", s.handleProcessorSettings)
	// Preset endpoints
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/presets/save", s.handlePresetSave)
	mux.HandleFunc("/api/presets/apply", s.handlePresetApply)
	mux.HandleFunc("/api/presets/delete/", s.handlePresetDelete)
	// Plugin endpoints
	mux.HandleFunc("/api/plugins", s.handlePlugins)
	mux.HandleFunc("/api/plugins/pick", s.handlePluginPick)
	mux.HandleFunc("/api/plugins/parameter", s.handlePluginParameter)
	// Meter endpoints
	mux.HandleFunc("/api/meters/", s.handleMeter)
	return mux
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if err := s.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	localIP := getLocalIP()

	slog.Info("Starting castpanel web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	return http.ListenAndServe(":"+s.port, s.routes())
}

// handleIndex serves a minimal landing page listing the API surface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(getDefaultHTML()))
}

func getDefaultHTML() string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>castpanel</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
    <div class="container">
        <h1>castpanel</h1>
        <p>Broadcast control surface is running.</p>
        <h2>API Endpoints:</h2>
        <ul>
            <li>GET /status - Server status and panel states</li>
            <li>GET /api/mixer - Channel strips and master bus</li>
            <li>POST /api/mixer/gain - Set a channel fader</li>
            <li>POST /api/panels/open - Open a panel</li>
            <li>GET /api/meters/master - Master bus meter</li>
        </ul>
    </div>
</body>
</html>`
}

// handleStatus returns the current server status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	response := StatusResponse{
		Running:       s.service.Running(),
		ActiveProfile: s.activeProfile,
		Panels:        s.service.PanelStates(),
		ChannelCount:  len(s.service.Channels()),
		PluginCount:   len(s.service.ListPlugins()),
		LastError:     s.service.GetLastError(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ===== PROFILE HANDLERS =====

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	profiles := []string{}
	if s.configFile != "" {
		if rootConfig, err := config.ValidateConfigurationFormat(s.configFile); err == nil {
			for profileName := range rootConfig.Configs {
				profiles = append(profiles, profileName)
			}
		} else {
			slog.Debug("Failed to read config file for profiles", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"profiles": profiles,
	})
}

// handleSelectProfile switches to another configuration profile
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	profile := r.FormValue("profile")
	slog.Debug("Profile selection request", "profile", profile)

	if err := s.service.LoadProfile(r.Context(), profile); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("Failed to load profile '%s': %v", profile, err),
			"profile", profile, "operation", "profile_selection")
		return
	}

	s.cfg = s.service.GetConfig()
	s.activeProfile = profile

	if s.configFile != "" {
		if err := config.UpdateActiveConfig(s.configFile, profile); err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to save profile selection to config file: %v", err),
				"profile", profile, "operation", "profile_selection")
			return
		}
	}

	slog.Info("Profile changed", "profile", s.activeProfile)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Profile changed to %s", s.activeProfile),
		"profile": s.activeProfile,
	})
}

// handleActiveProfile returns the currently active profile
func (s *Server) handleActiveProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"active_profile": s.activeProfile,
		"success":        true,
	})
}

// ===== PANEL HANDLERS =====

// handlePanels returns the visibility state of every panel
func (s *Server) handlePanels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"panels": s.service.PanelStates(),
	})
}

// panelAction parses the panel form value and runs one panel operation
func (s *Server) panelAction(w http.ResponseWriter, r *http.Request, op string, action func(kind string) error) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	kind := r.FormValue("panel")
	if kind == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Panel kind is required", "operation", op)
		return
	}

	if err := action(kind); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "panel", kind, "operation", op)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Panel %s: %s", op, kind),
	})
}

func (s *Server) handlePanelOpen(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("exclusive") == "true" || r.PostFormValue("exclusive") == "true" {
		s.panelAction(w, r, "open_exclusive", s.service.OpenPanelExclusive)
		return
	}
	s.panelAction(w, r, "open", s.service.OpenPanel)
}

func (s *Server) handlePanelClose(w http.ResponseWriter, r *http.Request) {
	s.panelAction(w, r, "close", s.service.ClosePanel)
}

func (s *Server) handlePanelToggle(w http.ResponseWriter, r *http.Request) {
	s.panelAction(w, r, "toggle", s.service.TogglePanel)
}

func (s *Server) handlePanelFocus(w http.ResponseWriter, r *http.Request) {
	s.panelAction(w, r, "focus", s.service.FocusPanel)
}

// ===== MIXER HANDLERS =====

// handleMixer returns the full desk state
func (s *Server) handleMixer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	response := MixerResponse{
		Channels: s.service.Channels(),
		Master:   s.service.MasterBus(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleChannelAdd appends a new channel strip to the desk
func (s *Server) handleChannelAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	channel := mixer.Channel{
		ID:       r.FormValue("channel"),
		Name:     r.FormValue("name"),
		DeviceID: r.FormValue("device"),
	}
	if channel.ID == "" || channel.Name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Channel and name are required", "operation", "add_channel")
		return
	}

	if rawGain := r.FormValue("gain"); rawGain != "" {
		gain, err := strconv.ParseFloat(rawGain, 64)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid gain value",
				"channel", channel.ID, "operation", "add_channel")
			return
		}
		channel.Gain = gain
	}

	added, err := s.service.AddChannel(r.Context(), channel)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(),
			"channel", channel.ID, "operation", "add_channel")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"channel": added,
	})
}

// handleChannelGain sets a channel fader, channel "master" targets the bus
func (s *Server) handleChannelGain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	channel := r.FormValue("channel")
	if channel == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Channel is required", "operation", "set_gain")
		return
	}

	gain, err := strconv.ParseFloat(r.FormValue("gain"), 64)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid gain value", "channel", channel, "operation", "set_gain")
		return
	}

	s.service.SetChannelGain(channel, gain)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Gain set on %s", channel),
	})
}

// handleChannelPan sets a channel's stereo position
func (s *Server) handleChannelPan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	channel := r.FormValue("channel")
	pan, err := strconv.ParseFloat(r.FormValue("pan"), 64)
	if channel == "" || err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Channel and numeric pan are required", "operation", "set_pan")
		return
	}

	s.service.SetChannelPan(channel, pan)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Pan set on %s", channel),
	})
}

// handleChannelMute toggles a channel's mute state
func (s *Server) handleChannelMute(w http.ResponseWriter, r *http.Request) {
	s.toggleAction(w, r, "mute", s.service.ToggleChannelMute)
}

// handleChannelSolo toggles a channel's solo state
func (s *Server) handleChannelSolo(w http.ResponseWriter, r *http.Request) {
	s.toggleAction(w, r, "solo", s.service.ToggleChannelSolo)
}

// toggleAction runs a channel toggle and reports the resulting state
func (s *Server) toggleAction(w http.ResponseWriter, r *http.Request, op string, toggle func(string) (bool, bool)) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	channel := r.FormValue("channel")
	if channel == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Channel is required", "operation", op)
		return
	}

	state, ok := toggle(channel)
	if !ok {
		s.sendErrorResponse(w, http.StatusNotFound,
			fmt.Sprintf("Channel not found: %s", channel), "channel", channel, "operation", op)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"channel": channel,
		op:        state,
	})
}

// handleSelect sets the control surface selection
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	if channel := r.FormValue("channel"); channel != "" {
		s.service.SelectChannel(channel)
	}
	if processor := r.FormValue("processor"); processor != "" {
		s.service.SelectProcessor(processor)
	}

	channelID, processorID := s.service.Selection()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"channel":   channelID,
		"processor": processorID,
	})
}

// handleProcessorAdd appends a processor to a channel strip
func (s *Server) handleProcessorAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	channel := r.FormValue("channel")
	procType := r.FormValue("type")
	if channel == "" || procType == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Channel and type are required", "operation", "add_processor")
		return
	}

	proc, err := s.service.AddProcessor(channel, procType)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(),
			"channel", channel, "type", procType, "operation", "add_processor")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"processor": proc,
	})
}

// handleProcessorRemove removes a processor from a channel strip
func (s *Server) handleProcessorRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	channel := r.FormValue("channel")
	processor := r.FormValue("processor")
	if channel == "" || processor == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Channel and processor are required", "operation", "remove_processor")
		return
	}

	s.service.RemoveProcessor(channel, processor)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Processor %s removed from %s", processor, channel),
	})
}

// handleProcessorToggle flips a processor's bypass state
func (s *Server) handleProcessorToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	channel := r.FormValue("channel")
	processor := r.FormValue("processor")
	if channel == "" || processor == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Channel and processor are required", "operation", "toggle_processor")
		return
	}

	s.service.ToggleProcessor(channel, processor)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Processor %s toggled on %s", processor, channel),
	})
}

// handleProcessorSettings merges a parameter delta into a processor
func (s *Server) handleProcessorSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	var req ProcessorSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload", "operation", "processor_settings")
		return
	}

	if req.Channel == "" || req.Processor == "" || len(req.Settings) == 0 {
		s.sendErrorResponse(w, http.StatusBadRequest,
			"Channel, processor and settings are required", "operation", "processor_settings")
		return
	}

	delta := mixer.NormalizeSettings(mixer.Settings(req.Settings))
	s.service.SetProcessorSettings(req.Channel, req.Processor, delta)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Settings updated on %s/%s", req.Channel, req.Processor),
	})
}

// ===== PRESET HANDLERS =====

// handlePresets returns all saved presets
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	presets := s.service.ListPresets()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"presets":     presets,
		"total_count": len(presets),
	})
}

// handlePresetSave snapshots the current selection into a preset
func (s *Server) handlePresetSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Preset name is required", "operation", "save_preset")
		return
	}

	preset, err := s.service.SavePreset(name)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "name", name, "operation", "save_preset")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"preset":  preset,
	})
}

// handlePresetApply applies a preset to the current selection
func (s *Server) handlePresetApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	presetID := r.FormValue("preset")
	if presetID == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Preset id is required", "operation", "apply_preset")
		return
	}

	if err := s.service.ApplyPreset(presetID); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "preset", presetID, "operation", "apply_preset")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Preset %s applied", presetID),
	})
}

// handlePresetDelete removes a saved preset
func (s *Server) handlePresetDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.sendMethodNotAllowed(w)
		return
	}

	presetID := r.URL.Path[len("/api/presets/delete/"):]
	if presetID == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Preset id is required", "operation", "delete_preset")
		return
	}

	if err := s.service.DeletePreset(presetID); err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, err.Error(), "preset", presetID, "operation", "delete_preset")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Preset %s deleted", presetID),
	})
}

// ===== PLUGIN HANDLERS =====

// handlePlugins returns the plugin catalogue
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	plugins := s.service.ListPlugins()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"plugins":     plugins,
		"total_count": len(plugins),
	})
}

// handlePluginPick loads a plugin onto the selected channel
func (s *Server) handlePluginPick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	pluginID := r.FormValue("plugin")
	if pluginID == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Plugin id is required", "operation", "pick_plugin")
		return
	}

	proc, err := s.service.PickPlugin(r.Context(), pluginID)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "plugin", pluginID, "operation", "pick_plugin")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"processor": proc,
	})
}

// handlePluginParameter updates a plugin parameter value
func (s *Server) handlePluginParameter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	pluginID := r.FormValue("plugin")
	paramID := r.FormValue("parameter")
	value, err := strconv.ParseFloat(r.FormValue("value"), 64)
	if pluginID == "" || paramID == "" || err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest,
			"Plugin, parameter and numeric value are required", "operation", "plugin_parameter")
		return
	}

	if err := s.service.SetPluginParameter(pluginID, paramID, value); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(),
			"plugin", pluginID, "parameter", paramID, "operation", "plugin_parameter")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Parameter %s updated on %s", paramID, pluginID),
	})
}

// ===== METER HANDLERS =====

// handleMeter returns the latest meter reading for a channel, or for the
// master bus at /api/meters/master
func (s *Server) handleMeter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	target := strings.TrimPrefix(r.URL.Path, "/api/meters/")
	if target == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Meter target is required", "operation", "meter")
		return
	}

	buf := s.service.MasterMeter()
	if target != "master" {
		buf = s.service.ChannelMeter(target)
	}
	if buf == nil {
		s.sendErrorResponse(w, http.StatusNotFound,
			fmt.Sprintf("No meter for target: %s", target), "target", target, "operation", "meter")
		return
	}

	peak, rms := analyzeBuffer(buf.Data)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(MeterResponse{
		Target:     target,
		Peak:       peak,
		RMS:        rms,
		SampleRate: buf.Format.SampleRate,
		Frames:     len(buf.Data),
	})
}

// analyzeBuffer reduces a sample window to peak and RMS values
func analyzeBuffer(data []float64) (peak, rms float64) {
	if len(data) == 0 {
		return 0, 0
	}
	var sum float64
	for _, sample := range data {
		abs := math.Abs(sample)
		if abs > peak {
			peak = abs
		}
		sum += sample * sample
	}
	return peak, math.Sqrt(sum / float64(len(data)))
}

// ===== HELPERS =====

func (s *Server) sendMethodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// getActiveProfileName returns the active profile name from config file
func getActiveProfileName(configFile string) string {
	if configFile == "" {
		return ""
	}

	rootConfig, err := config.ValidateConfigurationFormat(configFile)
	if err != nil {
		slog.Warn("Failed to read config file for active profile", "error", err)
		return ""
	}

	if rootConfig.ActiveConfig == "" {
		for configName := range rootConfig.Configs {
			return configName
		}
		return ""
	}

	return rootConfig.ActiveConfig
}

func getLocalIP() string {
	// Dialing out resolves which local interface routes externally.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
