package main

import (
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"example.com/xtfgate/internal/common"
	"example.com/xtfgate/internal/crypto"
	"example.com/xtfgate/internal/dict"
	"example.com/xtfgate/internal/manifest"
	"example.com/xtfgate/internal/report"
	"example.com/xtfgate/internal/rules"
	"example.com/xtfgate/internal/xtf"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "decode":
		decodeCmd(os.Args[2:])
	case "validate":
		validateCmd(os.Args[2:])
	case "inspect":
		inspectCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "manifest":
		manifestCmd(os.Args[2:])
	case "verify-signature":
		verifySignatureCmd(os.Args[2:])
	case "batch":
		batchCmd(os.Args[2:])
	case "rulepack":
		rulepackCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`xtfctl %s (built %s) <command> [options]

Commands:
  decode    --in <file.xtf> [--limit <n>]
  validate  --in <file.xtf> --profile <profile> [--rules <rulepack.json> | --rulepack-id <id> [--rulepack-version <version>]] [--dict <dict.json>] --out <diagnostics.ndjson> --acceptance <acceptance.json>
  inspect   --in <file.xtf> [--dict <dict.json>]
  report    --acceptance <acceptance.json> --pdf <report.pdf> [--in <file.xtf>] [--lang <en|tr>]
  manifest  --inputs <comma-separated> --out <manifest.json> [--sign --key <key.pem> --cert <cert.pem> --jws-out <file>] [--qr <hash.png>]
  verify-signature --manifest <manifest.json> --jws <signature.jws> --cert <roots.pem> [--check-items]
  batch     --in <dir> --profile <profile> [--rules <rulepack.json>] --out-dir <dir>
  rulepack  <install|list|remove|verify|set-default> [...]
`, version, buildDate)
}

func decodeCmd(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	in := fs.String("in", "", "input .xtf")
	limit := fs.Int("limit", 0, "stop after this many records (0 = all)")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	_, idx, err := xtf.ScanFile(*in, nil)
	if err != nil {
		fmt.Println("scan:", err)
		os.Exit(1)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tOFFSET\tTYPE\tBYTES\tCHANNELS\tTIME (us)\tNOTE")
	for i, frame := range idx.Frames {
		if *limit > 0 && i >= *limit {
			break
		}
		ts := "-"
		if frame.TimeStampUs >= 0 {
			ts = fmt.Sprintf("%d", frame.TimeStampUs)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%d\t%s\t%s\n",
			i, frame.Offset, frame.HeaderType, frame.Length, frame.NumChans, ts, frame.Error)
	}
	w.Flush()
	fmt.Printf("Records: %d (unknown=%d corrupt=%d)\n", idx.RecordCount, idx.UnknownCount, idx.CorruptCount)
	if idx.TruncatedTail {
		fmt.Println("WARNING: file ends in a truncated record")
	}
}

func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	in := fs.String("in", "", "input .xtf")
	profile := fs.String("profile", "survey-acceptance", "profile")
	rulesPath := fs.String("rules", "", "rulepack.json")
	rulePackID := fs.String("rulepack-id", "", "installed rule pack identifier")
	rulePackVersion := fs.String("rulepack-version", "", "installed rule pack version")
	allowUnsigned := fs.Bool("allow-unsigned-rulepack", false, "allow validation with unsigned rule packs")
	outDiag := fs.String("out", "diagnostics.ndjson", "diagnostics output")
	outAcc := fs.String("acceptance", "acceptance_report.json", "acceptance json")
	includeTimestamps := fs.Bool("diag-include-timestamps", true, "include timestamp metadata in diagnostics output")
	metricsFlag := fs.Bool("metrics", false, "print validation throughput metrics")
	progressFlag := fs.Bool("progress", false, "display validation progress updates")
	dictPath := fs.String("dict", "", "sonar dictionary JSON file")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	if *rulesPath != "" && *rulePackID != "" {
		fmt.Println("--rules and --rulepack-id cannot be used together")
		os.Exit(1)
	}
	if *rulePackVersion != "" && *rulePackID == "" {
		fmt.Println("--rulepack-version requires --rulepack-id")
		os.Exit(1)
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		if info, err := os.Stat(*in); err == nil {
			metrics.SetTotalBytes(info.Size())
		}
	}

	rp, source, err := rules.ResolveRulePack(rules.RulePackRequest{
		Path:          *rulesPath,
		RulePackId:    *rulePackID,
		Version:       *rulePackVersion,
		Profile:       *profile,
		AllowUnsigned: *allowUnsigned,
	})
	if err != nil {
		fmt.Println("resolve rulepack:", err)
		os.Exit(1)
	}
	if source.FromRepository {
		fmt.Printf("Using rule pack %s@%s (profile %s)\n", source.RulePackId, source.Version, rp.Profile)
		if source.Unsigned {
			fmt.Println("WARNING: rule pack is unsigned")
		}
	}
	engine := rules.NewEngine(rp)
	engine.RegisterBuiltins()
	engine.SetConfigValue("diag.include_timestamps", *includeTimestamps)

	ctx := &rules.Context{InputFile: *in, Profile: *profile, Metrics: metrics}
	store, err := loadDictionary(*dictPath)
	if err != nil {
		fmt.Println("dictionary:", err)
		os.Exit(1)
	}
	if metrics != nil {
		metrics.Start()
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	diags, err := engine.Eval(ctx)
	if stopProgress != nil {
		stopProgress()
	}
	if metrics != nil {
		metrics.Stop()
	}
	if err != nil {
		fmt.Println("eval:", err)
		os.Exit(1)
	}

	if err := engine.WriteDiagnosticsNDJSON(*outDiag); err != nil {
		fmt.Println("write diags:", err)
		os.Exit(1)
	}
	rep := engine.MakeAcceptance()
	if err := report.SaveAcceptanceJSON(rep, *outAcc); err != nil {
		fmt.Println("write report:", err)
		os.Exit(1)
	}
	if ctx.Header != nil {
		fmt.Printf("Sonar: %s\n", sonarLabel(ctx.Header, store))
	}
	fmt.Printf("PASS=%v, errors=%d, warnings=%d, diagnostics=%d\n", rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings, len(diags))
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		throughputBps := snap.ThroughputBytesPerSecond()
		gbPerMin := throughputBps * 60 / 1_000_000_000
		mbPerSec := throughputBps / 1_000_000
		fmt.Printf("Metrics: duration=%s records=%d corrupt=%d processed=%s throughput=%.2f GB/min (%.2f MB/s)\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Records,
			snap.Corrupt,
			common.FormatBytes(snap.Bytes),
			gbPerMin,
			mbPerSec,
		)
		tags := make([]int, 0, len(snap.RecordsByTag))
		for tag := range snap.RecordsByTag {
			tags = append(tags, int(tag))
		}
		sort.Ints(tags)
		for _, tag := range tags {
			fmt.Printf("  %s: %d\n", xtf.HeaderType(tag), snap.RecordsByTag[uint8(tag)])
		}
	}
}

func loadDictionary(path string) (*dict.Store, error) {
	if strings.TrimSpace(path) == "" {
		return dict.Builtin(), nil
	}
	return dict.EnsureLoaded(path)
}

func sonarLabel(fh *xtf.FileHeader, store *dict.Store) string {
	name := fh.Sonar()
	typeName := store.SonarName(fh.SonarType)
	if name == "" {
		return typeName
	}
	return fmt.Sprintf("%s (%s)", name, typeName)
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	in := fs.String("in", "", "input .xtf")
	dictPath := fs.String("dict", "", "sonar dictionary JSON file")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	store, err := loadDictionary(*dictPath)
	if err != nil {
		fmt.Println("dictionary:", err)
		os.Exit(1)
	}
	fh, idx, err := xtf.ScanFile(*in, nil)
	if err != nil {
		fmt.Println("scan:", err)
		os.Exit(1)
	}
	if fh == nil {
		fmt.Println("no file header decoded")
		os.Exit(1)
	}
	info := report.BuildSurveyInfo(*in, fh, &idx)
	fmt.Printf("File: %s\n", *in)
	fmt.Printf("Sonar: %s\n", sonarLabel(fh, store))
	fmt.Printf("Records: %d (unknown=%d corrupt=%d)\n", idx.RecordCount, idx.UnknownCount, idx.CorruptCount)
	if idx.TruncatedTail {
		fmt.Println("WARNING: file ends in a truncated record")
	}
	if len(info.Channels) == 0 {
		fmt.Println("No channels declared")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CH\tNAME\tTYPE\tBYTES/SAMPLE\tFREQ (kHz)")
	for _, ch := range info.Channels {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.1f\n", ch.Index, ch.Name, ch.Type, ch.BytesPerSample, ch.FrequencyKHz)
	}
	w.Flush()
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	accPath := fs.String("acceptance", "", "acceptance_report.json")
	pdfPath := fs.String("pdf", "", "output acceptance report PDF")
	in := fs.String("in", "", "input .xtf the acceptance report describes (optional)")
	lang := fs.String("lang", "", "report language (en or tr)")
	fs.Parse(args)

	if *accPath == "" || *pdfPath == "" {
		fmt.Println("required: --acceptance, --pdf")
		os.Exit(1)
	}
	rep, err := report.LoadAcceptanceJSON(*accPath)
	if err != nil {
		fmt.Println("load acceptance:", err)
		os.Exit(1)
	}
	language, err := report.ParseLanguage(*lang)
	if err != nil {
		fmt.Println("language:", err)
		os.Exit(1)
	}

	var info report.SurveyInfo
	if *in != "" {
		fh, idx, err := xtf.ScanFile(*in, nil)
		if err != nil {
			fmt.Println("scan input:", err)
			os.Exit(1)
		}
		info = report.BuildSurveyInfo(*in, fh, &idx)
		if hash, _, err := common.Sha256OfFile(*in); err == nil {
			info.FileSha256 = hash
		}
	} else {
		info = report.SurveyInfo{File: firstFindingFile(rep)}
	}

	if err := report.SaveAcceptancePDFLang(rep, info, *pdfPath, report.NewTranslator(language)); err != nil {
		fmt.Println("write pdf:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote PDF:", *pdfPath)
}

func firstFindingFile(rep rules.AcceptanceReport) string {
	for _, d := range rep.Findings {
		if d.File != "" {
			return d.File
		}
	}
	return ""
}

func manifestCmd(args []string) {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	inputs := fs.String("inputs", "", "comma-separated paths")
	out := fs.String("out", "manifest.json", "output json")
	sign := fs.Bool("sign", false, "sign manifest (detached JWS over canonical JSON)")
	keyPath := fs.String("key", "", "PEM private key for signing (requires --sign)")
	certPath := fs.String("cert", "", "PEM certificate describing signer (requires --sign)")
	jwsOut := fs.String("jws-out", "", "output JWS file (defaults to manifest path with .jws)")
	qrOut := fs.String("qr", "", "output PNG with a QR code of the manifest hash")
	fs.Parse(args)

	if *inputs == "" {
		fmt.Println("required: --inputs")
		os.Exit(1)
	}

	var paths []string
	for _, p := range strings.Split(*inputs, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		fmt.Println("no input paths specified")
		os.Exit(1)
	}

	m, err := manifest.Build(paths)
	if err != nil {
		fmt.Println("manifest build:", err)
		os.Exit(1)
	}

	if *sign {
		if *keyPath == "" || *certPath == "" {
			fmt.Println("--sign requires --key and --cert")
			os.Exit(1)
		}
		keyBytes, err := os.ReadFile(*keyPath)
		if err != nil {
			fmt.Println("read key:", err)
			os.Exit(1)
		}
		certBytes, err := os.ReadFile(*certPath)
		if err != nil {
			fmt.Println("read cert:", err)
			os.Exit(1)
		}
		sigPath := *jwsOut
		if sigPath == "" {
			sigPath = replaceExt(*out, ".jws")
		}
		jws, err := manifest.Sign(&m, keyBytes, certBytes, sigPath)
		if err != nil {
			fmt.Println("manifest sign:", err)
			os.Exit(1)
		}
		if err := manifest.SaveJWS(jws, sigPath); err != nil {
			fmt.Println("write jws:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote signature", sigPath)
	}

	if err := manifest.Save(m, *out); err != nil {
		fmt.Println("manifest save:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote", *out)

	hash, err := manifest.Hash(m)
	if err != nil {
		fmt.Println("manifest hash:", err)
		os.Exit(1)
	}
	fmt.Println("Manifest SHA256:", hash)

	if *qrOut != "" {
		png, err := report.ManifestHashToQR(hash, 0)
		if err != nil {
			fmt.Println("qr encode:", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*qrOut, png, 0o644); err != nil {
			fmt.Println("write qr:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote QR", *qrOut)
	}
}

func replaceExt(path, newExt string) string {
	ext := filepath.Ext(path)
	if ext != "" {
		return path[:len(path)-len(ext)] + newExt
	}
	return path + newExt
}

func verifySignatureCmd(args []string) {
	fs := flag.NewFlagSet("verify-signature", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "manifest JSON file")
	jwsPath := fs.String("jws", "", "manifest JWS signature file")
	certPath := fs.String("cert", "", "trusted certificate(s), PEM")
	checkItems := fs.Bool("check-items", false, "re-hash listed deliverables and report drift")
	fs.Parse(args)

	if *manifestPath == "" || *jwsPath == "" || *certPath == "" {
		fmt.Println("required: --manifest, --jws, --cert")
		os.Exit(1)
	}

	m, err := manifest.Load(*manifestPath)
	if err != nil {
		fmt.Println("read manifest:", err)
		os.Exit(1)
	}
	jws, err := manifest.LoadJWS(*jwsPath)
	if err != nil {
		fmt.Println("read jws:", err)
		os.Exit(1)
	}
	certBytes, err := os.ReadFile(*certPath)
	if err != nil {
		fmt.Println("read cert:", err)
		os.Exit(1)
	}
	certs, err := crypto.ParseCertificatesPEM(certBytes)
	if err != nil {
		fmt.Println("parse cert:", err)
		os.Exit(1)
	}
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}

	signer, err := manifest.Verify(m, jws, pool)
	if err != nil {
		fmt.Println("verify signature:", err)
		os.Exit(1)
	}
	fmt.Println("Signature OK")
	if signer != nil {
		fmt.Println("Signer:", signer.Subject.String())
	}

	if *checkItems {
		drifted, err := manifest.VerifyItems(m)
		if err != nil {
			fmt.Println("check items:", err)
			os.Exit(1)
		}
		if len(drifted) > 0 {
			for _, p := range drifted {
				fmt.Println("DRIFT:", p)
			}
			os.Exit(1)
		}
		fmt.Printf("All %d item(s) match their recorded hashes\n", len(m.Items))
	}
}

func batchCmd(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	inDir := fs.String("in", ".", "input directory")
	profile := fs.String("profile", "survey-acceptance", "profile")
	rulesPath := fs.String("rules", "", "rulepack.json")
	outDir := fs.String("out-dir", "out", "results directory")
	fs.Parse(args)

	inputs, err := collectSurveyFiles(*inDir)
	if err != nil {
		fmt.Println("scan directory:", err)
		os.Exit(1)
	}
	if len(inputs) == 0 {
		fmt.Println("no .xtf files found in", *inDir)
		os.Exit(1)
	}

	rp, _, err := rules.ResolveRulePack(rules.RulePackRequest{Path: *rulesPath, Profile: *profile})
	if err != nil {
		fmt.Println("resolve rulepack:", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Println("create output directory:", err)
		os.Exit(1)
	}

	type batchResult struct {
		file     string
		pass     bool
		errors   int
		warnings int
		err      error
	}
	var results []batchResult
	failed := 0
	for _, in := range inputs {
		engine := rules.NewEngine(rp)
		engine.RegisterBuiltins()
		ctx := &rules.Context{InputFile: in, Profile: *profile}
		_, err := engine.Eval(ctx)
		if err != nil {
			results = append(results, batchResult{file: in, err: err})
			failed++
			continue
		}
		rep := engine.MakeAcceptance()
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		accPath := filepath.Join(*outDir, base+".acceptance.json")
		if err := report.SaveAcceptanceJSON(rep, accPath); err != nil {
			results = append(results, batchResult{file: in, err: err})
			failed++
			continue
		}
		diagPath := filepath.Join(*outDir, base+".diagnostics.ndjson")
		if err := engine.WriteDiagnosticsNDJSON(diagPath); err != nil {
			results = append(results, batchResult{file: in, err: err})
			failed++
			continue
		}
		if !rep.Summary.Pass {
			failed++
		}
		results = append(results, batchResult{
			file:     in,
			pass:     rep.Summary.Pass,
			errors:   rep.Summary.Errors,
			warnings: rep.Summary.Warnings,
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tRESULT\tERRORS\tWARNINGS")
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(w, "%s\tERROR: %v\t\t\n", r.file, r.err)
			continue
		}
		result := "PASS"
		if !r.pass {
			result = "FAIL"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", r.file, result, r.errors, r.warnings)
	}
	w.Flush()
	fmt.Printf("Validated %d file(s), %d failed\n", len(results), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func collectSurveyFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".xtf") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func rulepackCmd(args []string) {
	if len(args) == 0 {
		rulepackUsage()
		os.Exit(1)
	}
	sub := args[0]
	switch sub {
	case "install":
		rulepackInstallCmd(args[1:])
	case "list":
		rulepackListCmd(args[1:])
	case "remove":
		rulepackRemoveCmd(args[1:])
	case "verify":
		rulepackVerifyCmd(args[1:])
	case "set-default":
		rulepackSetDefaultCmd(args[1:])
	default:
		fmt.Println("unknown rulepack subcommand")
		rulepackUsage()
		os.Exit(1)
	}
}

func rulepackUsage() {
	fmt.Println("rulepack commands:")
	fmt.Println("  install --file <package.rpkg.zip> [--allow-unsigned]")
	fmt.Println("  list")
	fmt.Println("  remove --id <rulepack> --version <version>")
	fmt.Println("  verify --id <rulepack> --version <version>")
	fmt.Println("  set-default --profile <profile> --id <rulepack> --version <version>")
}

func rulepackInstallCmd(args []string) {
	fs := flag.NewFlagSet("rulepack install", flag.ExitOnError)
	file := fs.String("file", "", "path to .rpkg.zip package")
	allowUnsigned := fs.Bool("allow-unsigned", false, "allow installing unsigned packages")
	fs.Parse(args)

	if *file == "" {
		fmt.Println("required: --file")
		os.Exit(1)
	}
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	installed, err := repo.InstallPackage(*file, *allowUnsigned)
	if err != nil {
		fmt.Println("install rule pack:", err)
		os.Exit(1)
	}
	fmt.Printf("Installed %s@%s (profile %s)\n", installed.RulePack.RulePackId, installed.RulePack.Version, installed.RulePack.Profile)
	if installed.Signed {
		if installed.Signer != "" {
			fmt.Printf("Signer: %s\n", installed.Signer)
		}
	} else {
		fmt.Println("Package installed without signature")
	}
}

func rulepackListCmd(args []string) {
	fs := flag.NewFlagSet("rulepack list", flag.ExitOnError)
	fs.Parse(args)
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	entries, err := repo.ListInstalled()
	if err != nil {
		fmt.Println("list rule packs:", err)
		os.Exit(1)
	}
	defaults, err := repo.Defaults()
	if err != nil {
		fmt.Println("load defaults:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("No rule packs installed")
		return
	}
	byKey := make(map[string][]string)
	for profile, ref := range defaults {
		key := ref.RulePackId + "@" + ref.Version
		byKey[key] = append(byKey[key], profile)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tPROFILE\tSIGNED\tDEFAULT FOR\tSIGNER")
	for _, entry := range entries {
		key := entry.RulePack.RulePackId + "@" + entry.RulePack.Version
		profiles := byKey[key]
		sort.Strings(profiles)
		signed := "yes"
		if !entry.Signed {
			signed = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.RulePack.RulePackId,
			entry.RulePack.Version,
			entry.RulePack.Profile,
			signed,
			strings.Join(profiles, ","),
			entry.Signer,
		)
	}
	w.Flush()
}

func rulepackRemoveCmd(args []string) {
	fs := flag.NewFlagSet("rulepack remove", flag.ExitOnError)
	id := fs.String("id", "", "rule pack identifier")
	version := fs.String("version", "", "rule pack version")
	fs.Parse(args)

	if *id == "" || *version == "" {
		fmt.Println("required: --id, --version")
		os.Exit(1)
	}
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	if err := repo.Remove(*id, *version); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("rule pack not found")
		} else {
			fmt.Println("remove rule pack:", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Removed %s@%s\n", *id, *version)
}

func rulepackVerifyCmd(args []string) {
	fs := flag.NewFlagSet("rulepack verify", flag.ExitOnError)
	id := fs.String("id", "", "rule pack identifier")
	version := fs.String("version", "", "rule pack version")
	fs.Parse(args)

	if *id == "" || *version == "" {
		fmt.Println("required: --id, --version")
		os.Exit(1)
	}
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	signer, err := repo.Verify(*id, *version)
	if err != nil {
		fmt.Println("verify rule pack:", err)
		os.Exit(1)
	}
	msg := "Signature OK"
	if signer != "" {
		msg += fmt.Sprintf(" (signed by %s)", signer)
	}
	fmt.Println(msg)
}

func rulepackSetDefaultCmd(args []string) {
	fs := flag.NewFlagSet("rulepack set-default", flag.ExitOnError)
	profile := fs.String("profile", "", "profile name")
	id := fs.String("id", "", "rule pack identifier")
	version := fs.String("version", "", "rule pack version")
	fs.Parse(args)

	if *profile == "" || *id == "" || *version == "" {
		fmt.Println("required: --profile, --id, --version")
		os.Exit(1)
	}
	repo, err := rules.DefaultRepository()
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	rp, source, err := repo.Load(*id, *version, true)
	if err != nil {
		fmt.Println("load rule pack:", err)
		os.Exit(1)
	}
	if source.Unsigned {
		fmt.Println("WARNING: selected rule pack is unsigned")
	}
	if rp.Profile != "" && rp.Profile != *profile {
		fmt.Printf("Warning: rule pack profile is %s\n", rp.Profile)
	}
	if err := repo.SetDefaultForProfile(*profile, rules.RulePackRef{RulePackId: *id, Version: *version}); err != nil {
		fmt.Println("set default:", err)
		os.Exit(1)
	}
	fmt.Printf("Default for profile %s set to %s@%s\n", *profile, *id, *version)
}
