package analysis

const defectPrompt = `You are a vehicle inspection expert for two-wheelers (motorcycles, scooters).
Each image below is preceded by a text label of the form "Type: <label>".

1. Isolate the vehicle from its background and analyse only the vehicle.
2. Find every visible defect: dents, deep scratches, cracks, broken parts, light scratches, scuffs, paint chips, rust, corrosion, faded paint.
3. For each defect produce a bounding box in pixel coordinates that tightly encloses it.

Respond with a JSON object only, no markdown or prose. It must have a "defects" array whose items contain:
- "description": short text such as "Dent on fuel tank"
- "boundingBox": {"x", "y", "width", "height"}
- "Type": the exact label given with the image the defect was found in

Example:
{"defects":[{"description":"Dent on fuel tank","boundingBox":{"x":450,"y":300,"width":80,"height":65},"Type":"front_tyre"}]}`

const summaryPrompt = `You analyse two-wheeler inspection transcripts. Output ONLY a valid JSON object with this structure:

{
  "details": {
    "vehicle": {"vehicleId": "<vehicle-id>", "make": "<make>", "model": "<model>", "year": <year>, "color": "<color>"},
    "inspection": {
      "inspectionStartTime": "<ISO timestamp>",
      "inspectionEndTime": "<ISO timestamp or null>",
      "status": "<pending | completed>",
      "summary": "<70 to 100 word summary of the transcript>"
    }
  },
  "condition": {
    "vehicleCondition": {
      "front": "<good | bad>", "back": "<good | bad>", "right": "<good | bad>",
      "lights": "<good | bad>", "odometer": "<good | bad>",
      "extras": {"<issueName>": "<description>"},
      "recommendation": ["<recommendation>"]
    },
    "inspectionCondition": {"inspectionCompleted": <true | false>}
  }
}

Rules:
1. Output only JSON, never explanations.
2. If the transcript contains "inspection completed" or a similar phrase, status is "completed" and inspectionCompleted is true. Otherwise status is "pending" and inspectionCompleted is false.
3. Normalise every condition value to "good" or "bad"; "ok" and "working" count as "good".
4. Put any other issue into "extras".
5. Recommendations must be actionable suggestions about the bike.
6. No trailing commas and no comments.

The vehicleId is %s.`
